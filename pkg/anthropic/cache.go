package anthropic

// BuildCachedSystemBlocks returns a single system block with a cache
// breakpoint, so repeated phase prompts for a batch of tickers share one
// cached instruction prefix.
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
