// Package ads coordinates the ad broadcast flow: submission, validation,
// cooldown checks, the confirm/cancel/timeout window, the review queue, and
// delivery to the configured broadcast chats.
//
// The coordinator itself holds no flow state. Per-actor pending drafts live
// in the pending registry, cooldown state in the cooldown store; each
// operation here is a short decision over those plus the transport effect.
package ads
