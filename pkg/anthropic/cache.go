package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. Stage prompts are stable across documents, so the system block
// is cached for an hour.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "1h",
			},
		},
	}
}
