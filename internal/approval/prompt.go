package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// TerminalPrompter asks for approval on the terminal. Critical-risk
// mutations require the literal answer "yes"; anything else accepts "y" or
// "yes".
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer

	// isTerminal overrides TTY detection in tests.
	isTerminal func() bool
}

// NewTerminalPrompter prompts on stdin/stdout.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{
		In:  os.Stdin,
		Out: os.Stdout,
		isTerminal: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
	}
}

// Available reports whether stdin is an interactive terminal.
func (p *TerminalPrompter) Available() bool {
	if p.isTerminal != nil {
		return p.isTerminal()
	}
	return true
}

// Prompt renders the request and reads one answer line. Cancellation
// abandons the read.
func (p *TerminalPrompter) Prompt(ctx context.Context, req MutationRequest) (Decision, error) {
	fmt.Fprintf(p.Out, "\nApproval required [%s risk]\n", req.RiskLevel)
	fmt.Fprintf(p.Out, "  Operation: %s\n", req.Operation)
	fmt.Fprintf(p.Out, "  Resource:  %s\n", req.Resource)
	if req.Description != "" {
		fmt.Fprintf(p.Out, "  %s\n", req.Description)
	}
	if req.EstimatedImpact != "" {
		fmt.Fprintf(p.Out, "  Estimated impact: %s\n", req.EstimatedImpact)
	}
	if req.RollbackCommand != "" {
		fmt.Fprintf(p.Out, "  Rollback: %s\n", req.RollbackCommand)
	}
	if req.RiskLevel == RiskCritical {
		fmt.Fprintf(p.Out, "Type exactly \"yes\" to approve: ")
	} else {
		fmt.Fprintf(p.Out, "Approve? [y/N]: ")
	}

	answers := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(p.In)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		answers <- strings.TrimSpace(line)
	}()

	select {
	case <-ctx.Done():
		return Decision{Approved: false, Reason: "cancelled"}, ctx.Err()
	case answer := <-answers:
		return p.decide(req, answer), nil
	}
}

func (p *TerminalPrompter) decide(req MutationRequest, answer string) Decision {
	approved := false
	if req.RiskLevel == RiskCritical {
		approved = answer == "yes"
	} else {
		lower := strings.ToLower(answer)
		approved = lower == "y" || lower == "yes"
	}

	decision := Decision{
		Approved:   approved,
		ApprovedBy: "operator",
	}
	if approved {
		decision.ApprovedAt = time.Now().UTC()
	} else {
		decision.Reason = "declined at prompt"
	}
	return decision
}
