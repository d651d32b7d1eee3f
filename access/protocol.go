package access

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const protocolDateLayout = "20060102"

// ProtocolPattern matches well-formed request protocols.
var ProtocolPattern = regexp.MustCompile(`^SOL-\d{8}-\d{4}$`)

// ProtocolGenerator assigns the protocol of a new request created at the
// given instant. It runs inside the creating transaction, so counts it reads
// are consistent with the insert that follows.
type ProtocolGenerator interface {
	NextProtocol(ctx context.Context, requests RequestRepository, at time.Time) (string, error)
}

// GlobalSequence numbers requests by the total number of requests ever
// stored, prefixed with the creation date: SOL-YYYYMMDD-NNNN.
//
// The sequence is not reset per day, so the date prefix does not make the
// number unique on its own and values past 9999 widen the suffix.
type GlobalSequence struct{}

func (GlobalSequence) NextProtocol(ctx context.Context, requests RequestRepository, at time.Time) (string, error) {
	n, err := requests.CountRequests(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to count requests: %w", err)
	}
	return formatProtocol(at, n+1), nil
}

// DailySequence numbers requests within their creation day.
type DailySequence struct{}

func (DailySequence) NextProtocol(ctx context.Context, requests RequestRepository, at time.Time) (string, error) {
	n, err := requests.CountRequestsWithPrefix(ctx, protocolPrefix(at))
	if err != nil {
		return "", fmt.Errorf("failed to count requests for %s: %w", at.Format(protocolDateLayout), err)
	}
	return formatProtocol(at, n+1), nil
}

// ProtocolGeneratorFor returns the generator registered under name.
func ProtocolGeneratorFor(name string) (ProtocolGenerator, error) {
	switch strings.ToLower(name) {
	case "", "global":
		return GlobalSequence{}, nil
	case "daily":
		return DailySequence{}, nil
	default:
		return nil, fmt.Errorf("unknown protocol sequence %q", name)
	}
}

func protocolPrefix(at time.Time) string {
	return "SOL-" + at.Format(protocolDateLayout) + "-"
}

func formatProtocol(at time.Time, seq int) string {
	return fmt.Sprintf("%s%04d", protocolPrefix(at), seq)
}
