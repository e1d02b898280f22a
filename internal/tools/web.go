package tools

// NewWebSearchTool and NewWebFetchTool register web_search/web_fetch as
// server-side tools: the provider executes them and the client only sees
// their results. The original tree's web_search.go/
// web_fetch.go ran these client-side against Brave/DuckDuckGo and a local
// SSRF-checked net/http fetch; that machinery is superseded here by the
// Anthropic Messages API's built-in web_search/web_fetch server tools
// (llm.ToolDefinition.ServerSide), so no Go executor is registered for
// either — the agent loop passes their definitions straight through to
// the provider and never calls Executor for them.

func NewWebSearchTool() *Tool {
	return &Tool{
		Name:        "web_search",
		Description: "Search the web for current information.",
		ServerSide:  true,
	}
}

func NewWebFetchTool() *Tool {
	return &Tool{
		Name:        "web_fetch",
		Description: "Fetch a URL and extract its content.",
		ServerSide:  true,
	}
}
