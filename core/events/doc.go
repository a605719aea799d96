// Package events defines the typed conversation-log event contract emitted
// to the host of a voice session.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - user_input.*
//   - assistant_response.*
//   - tool_call.*
//   - assistant_playback.*
//   - turn_state.*
//   - session.*
//   - call.*
//
// Semantics used across the package:
//
//   - Segment: append-only text piece emitted in stream order.
//   - Updated: mutable point-in-time snapshot that can change over time.
//   - Final: terminal immutable text for the current stream or turn phase.
//   - Ended: lifecycle boundary indicating stream completion.
//
// user_input events
//
//   - UserTranscriptInterimUpdated (user_input.transcript_interim_updated):
//     mutable interim transcript snapshot, carries the server sequence.
//   - UserTranscriptFinal (user_input.transcript_final): final transcript of
//     the utterance.
//
// assistant_response events
//
//   - AssistantResponseSegment (assistant_response.segment): streamed response
//     text delta.
//   - AssistantResponseFinal (assistant_response.final): complete response
//     text.
//
// tool_call events
//
//   - ToolCallStarted (tool_call.started), ToolCallProgress
//     (tool_call.progress), ToolCallCompleted (tool_call.completed) and
//     ToolCallFailed (tool_call.failed) follow one server-side tool run.
//
// assistant_playback events
//
//   - AssistantPlaybackStarted (assistant_playback.started): first audio of a
//     response was queued.
//   - AssistantPlaybackEnded (assistant_playback.ended): final audio frame of
//     a response was queued.
//   - AssistantPlaybackInterrupted (assistant_playback.interrupted): playback
//     was cleared by a barge-in.
//
// turn_state events
//
//   - TurnCompleted (turn_state.completed): latency summary of a completed
//     turn.
//
// session events
//
//   - SessionOpened, SessionClosed, SessionEnded (session.opened,
//     session.closed, session.ended): connection lifecycle. Only SessionEnded
//     is final; SessionClosed is followed by a reconnect unless stated.
//   - LiveAgentTransfer (session.live_agent_transfer): the conversation is
//     being handed to a human agent.
//   - BackendHealthChanged (session.backend_health_changed): result of the
//     periodic health check changed.
//
// call events
//
//   - CallInitiated (call.initiated): an outbound call was placed.
//   - CallRelayMessage (call.relay_message): one message of a monitored call.
package events
