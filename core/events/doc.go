// Package events defines the typed events carried by the agent's streaming
// chat channel and the decoder that produces them from raw messages.
//
// Every stream is framed by exactly one opening and one closing event:
//
//   - Start (stream.start): the agent began a reply. The agent service may
//     omit it; receivers treat the first event of a stream as the opening.
//   - Chunk (stream.chunk): append-only reply text fragment.
//   - Audio (stream.audio): one encoded audio segment of synthesized speech.
//   - Usage (stream.usage): raw token counts for the reply.
//   - End (stream.end): the reply is complete.
//
// Chunk, Audio and Usage may appear any number of times, in any order,
// between the opening and the closing event.
//
// Decode failures are reported as *DecodeError. An in-band error payload sent
// by the agent service is reported as *RemoteError. Neither terminates the
// stream.
package events
