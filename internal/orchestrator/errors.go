package orchestrator

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/ledger"
)

// revertCodes maps the engine's custom errors to caller-facing codes.
var revertCodes = map[string]string{
	"InsufficientBalance": domain.CodeInsufficientBalance,
	"InvalidLeverage":     domain.CodeInvalidLeverage,
	"PositionNotOpen":     domain.CodePositionNotOpen,
	"NotPositionOwner":    domain.CodeNotPositionOwner,
	"InvalidAmount":       domain.CodeInvalidAmount,
	"PermitExpired":       domain.CodePermitExpired,
	"SlippageExceeded":    domain.CodeSlippageExceeded,
}

// revertPhrases matches require-strings and bare node messages against the
// same codes. Keys are lower-case letters only, so "Position not open",
// "PositionNotOpen" and "PositionNotOpen()" all normalise to one key.
var revertPhrases = func() map[string]string {
	m := make(map[string]string, len(revertCodes)+2)
	for name, code := range revertCodes {
		m[letters(name)] = code
	}
	m["notowner"] = domain.CodeNotPositionOwner
	m["insufficientfunds"] = domain.CodeInsufficientBalance
	return m
}()

// letters lower-cases s and drops everything but letters.
func letters(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}

// matchRevertMessage finds the code named by a revert message. The longest
// match wins so "notpositionowner" is never read as "notowner".
func matchRevertMessage(msg string) (string, bool) {
	norm := letters(msg)
	if norm == "" {
		return "", false
	}
	var best, code string
	for phrase, c := range revertPhrases {
		if len(phrase) > len(best) && strings.Contains(norm, phrase) {
			best, code = phrase, c
		}
	}
	return code, best != ""
}

// decodeError is the only place raw ledger, signing and store errors are
// turned into TradeErrors. It never returns nil for a non-nil err.
func decodeError(err error) *domain.TradeError {
	if err == nil {
		return nil
	}
	if te, ok := domain.AsTradeError(err); ok {
		return te
	}

	switch {
	case errors.Is(err, domain.ErrNoSigner):
		return &domain.TradeError{Kind: domain.KindConnectivity, Code: domain.CodeNoSigner,
			Message: "no signing wallet attached", Cause: err}
	case errors.Is(err, domain.ErrUserRejected), errors.Is(err, context.Canceled):
		return &domain.TradeError{Kind: domain.KindCancelled, Code: domain.CodeUserCancelled,
			Message: "action cancelled before submission", Cause: err}
	case errors.Is(err, domain.ErrSigningFailed):
		return &domain.TradeError{Kind: domain.KindConnectivity, Code: domain.CodeSigningFailed,
			Message: "wallet could not sign the permit", Cause: err}
	case errors.Is(err, domain.ErrNotFound):
		return &domain.TradeError{Kind: domain.KindPreflight, Code: domain.CodeMarketNotFound,
			Message: "market not found", Cause: err}
	case errors.Is(err, domain.ErrActionInFlight):
		return &domain.TradeError{Kind: domain.KindPreflight, Code: domain.CodeDuplicateAction,
			Message: "an identical action is already in flight", Cause: err}
	}

	if re, ok := ledger.AsRevert(err); ok {
		te := revertError(re.Revert)
		te.Cause = err
		return te
	}
	return &domain.TradeError{Kind: domain.KindConnectivity, Code: domain.CodeNetwork,
		Message: "ledger unreachable", Cause: err}
}

// revertError classifies a decoded revert as an on-chain failure. Known
// custom errors map by name, then require-strings by phrase. Other custom
// errors keep their own name as the code.
func revertError(rev ledger.Revert) *domain.TradeError {
	code := domain.CodeReverted
	if mapped, ok := revertCodes[rev.Name]; ok {
		code = mapped
	} else if mapped, ok := matchRevertMessage(rev.Message); ok && (rev.Name == "" || rev.Name == "Error") {
		code = mapped
	} else if rev.Name != "" && rev.Name != "Error" && rev.Name != "Panic" {
		code = rev.Name
	}
	msg := rev.Message
	if msg == "" {
		msg = "transaction reverted"
	}
	return &domain.TradeError{Kind: domain.KindOnchain, Code: code, Message: msg}
}
