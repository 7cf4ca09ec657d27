// Package channel implements the delivery-surface adapters and their
// capability registry.
//
// # Adapters
//
// Four adapter variants implement the same contract, selected by channel
// tag at registration time:
//
//   - voice_assistant: smart-speaker skill, voice only, no streaming
//   - web_chat: browser widget, rich content, streaming
//   - mobile_voice: phone app, push/offline, no streaming
//   - direct_api: raw API/webhook integration, everything enabled
//
// Each adapter owns a private sub-state entry under the session's
// ChannelStates map, keyed by its own tag. Other adapters and the engine
// treat foreign entries as opaque blobs.
//
// # Translation boundary
//
// Channel-native shapes exist only at the adapter edge: PreprocessMessage
// consumes them, AdaptResponse produces them. Everything between is the
// canonical session.Message/session.Response model.
//
// # State transfer
//
// ExportState/ImportState serialize the private sub-state for persistence
// and channel switches. Imports tolerate snapshots produced by different
// adapters or adapter versions: unknown fields are ignored, absent fields
// default, media the target cannot render is dropped with a warning.
package channel
