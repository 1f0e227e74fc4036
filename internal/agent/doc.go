// Package agent contains the conversation router, the core orchestrator that
// turns natural-language messages into on-chain actions. It classifies each
// message with the language model, extracts transaction parameters, queues
// previews for explicit confirmation, and runs every confirmed transaction
// through the risk pipeline before signing and broadcasting.
package agent
