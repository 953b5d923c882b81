package model

import llminterface "github.com/ghiac/agentize/llm-interface"

// ChatTurnResult is the shape one streamed chat turn hands back to its
// caller: the live token channel, the memories retrieved for it (spec 6's
// "rag_results" frame), and a Final accessor for the "done" frame's
// full_response once the channel closes. It lives in model, rather than in
// engine or gateway, so both sides of the gateway/engine boundary (the
// orchestrator that produces it and the ChatStreamer interface that
// consumes it) can name the same type without gateway importing engine.
type ChatTurnResult struct {
	Tokens   <-chan llminterface.TokenEvent
	Memories []RAGResult
	Final    func() string
}
