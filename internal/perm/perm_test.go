package perm

import "testing"

func TestTableLookup(t *testing.T) {
	tab := NewTable(
		[]int64{1},
		[]string{"ads.use"},
		map[string][]string{
			"2":   {"ads.bypass"},
			"bad": {"ads.admin"}, // skipped
		},
	)

	if !tab.Has(1, "anything.at.all") {
		t.Fatalf("owner must hold every capability")
	}
	if !tab.Has(99, "ads.use") {
		t.Fatalf("everyone grant not applied")
	}
	if !tab.Has(2, "ads.bypass") || !tab.Has(2, "ads.use") {
		t.Fatalf("user grants must stack on everyone grants")
	}
	if tab.Has(2, "ads.admin") {
		t.Fatalf("ungranted capability reported as held")
	}
	if tab.Has(99, "ads.bypass") {
		t.Fatalf("grant leaked to unrelated user")
	}
}

func TestSwitcherSwap(t *testing.T) {
	s := NewSwitcher(NewTable(nil, nil, map[string][]string{"5": {"ads.review"}}))
	if !s.Has(5, "ads.review") {
		t.Fatalf("initial table not active")
	}

	s.Swap(NewTable(nil, nil, nil))
	if s.Has(5, "ads.review") {
		t.Fatalf("swap did not replace the table wholesale")
	}
}
