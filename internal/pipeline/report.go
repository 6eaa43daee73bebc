package pipeline

import "fmt"

// FallbackReport is the report substituted when synthesis fails.
func FallbackReport(ticker string, err error) string {
	return fmt.Sprintf("# %s - Analysis Report\n\n"+
		"## Error\n\n"+
		"The analysis could not be completed due to an error in the synthesis phase.\n\n"+
		"**Error:** %v\n\n"+
		"Please try again or check the logs for more details.", ticker, err)
}

// failedAnalysis is the analysis text recorded when the analyzer fails.
func failedAnalysis(err error) string {
	return fmt.Sprintf("Analysis failed: %v", err)
}
