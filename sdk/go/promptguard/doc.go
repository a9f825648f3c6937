// Package promptguard screens prompts before they reach a language model.
// Every guarded call extracts the user-authored text, submits it to the
// scan service, and either delegates the untouched call to the provider or
// fails with a *BlockedError. When the scan itself fails the configured
// FailMode decides: FailOpen allows the call and logs a warning, FailClosed
// returns a *ScanError. The provider is never contacted for a blocked or
// refused call, and no content is streamed before the verdict is known.
//
// Usage:
//
//	pg, err := promptguard.NewAnthropic(
//	    promptguard.WithAPIKey(os.Getenv("PROMPTGUARD_API_KEY")),
//	    promptguard.WithFailMode(promptguard.FailClosed),
//	)
//	defer pg.Close()
//
//	msg, err := pg.Messages.New(ctx, promptguard.MessageNewParams{
//	    Model:     "claude-sonnet-4-5",
//	    MaxTokens: 1024,
//	    Messages:  []promptguard.MessageParam{promptguard.NewUserMessage(promptguard.NewTextBlock("Hello"))},
//	})
//	var blocked *promptguard.BlockedError
//	if errors.As(err, &blocked) {
//	    log.Printf("blocked: %s (%s)", blocked.ThreatType, blocked.Confidence)
//	}
//
// Async variants (NewAsync, GenerateContentAsync, SendMessageAsync) return a
// *Future; the scan still completes before the provider call begins.
//
// Settings not given as options are read from PROMPTGUARD_API_KEY,
// PROMPTGUARD_ENDPOINT, PROMPTGUARD_FAIL_MODE, PROMPTGUARD_SCAN_TIMEOUT,
// ANTHROPIC_API_KEY and GEMINI_API_KEY.
package promptguard
