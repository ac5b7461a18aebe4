// Package cmd holds the faqbot CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "faqbot",
	Short: "faqbot - FAQ chatbot with retrieval-augmented answers",
	Long: `faqbot serves an FAQ chatbot over HTTP. Answers are grounded in a
pgvector-backed knowledge base and streamed as Server-Sent Events; content
mutations arrive over a webhook and are re-embedded in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
