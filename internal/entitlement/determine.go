package entitlement

// Rule is one entry in the ordered decision list. Eval returns the decided
// status and true when the rule applies; rules after the first match are
// never consulted.
type Rule struct {
	Name string
	Eval func(b VerificationBundle) (Status, bool)
}

// decisionRules is the full decision table, in priority order. Rules that
// resolve to loading (ambiguous or untrusted input) come first, then the
// rules that can grant access, then the fail-closed rules, so that no
// legitimate trial or subscriber is blocked by an input subset that is also
// consistent with blocked.
var decisionRules = []Rule{
	{
		// Without server agreement no other signal can be trusted.
		Name: "unverified",
		Eval: func(b VerificationBundle) (Status, bool) {
			if !b.Success || !b.ServerSyncSucceeded {
				return StatusLoading, true
			}
			return "", false
		},
	},
	{
		// A purchase is mid-flight; wait for it to clear before deciding.
		Name: "pending_transaction",
		Eval: func(b VerificationBundle) (Status, bool) {
			if b.IsPending {
				return StatusLoading, true
			}
			return "", false
		},
	},
	{
		// A cached entitlement alone is not proof; it must be corroborated
		// by the server before granting access.
		Name: "cache_only",
		Eval: func(b VerificationBundle) (Status, bool) {
			if b.Source != SourceServer {
				return StatusLoading, true
			}
			return "", false
		},
	},
	{
		// This device already consumed a trial under another identity.
		// Takes priority over any trial signal.
		Name: "device_trial_block",
		Eval: func(b VerificationBundle) (Status, bool) {
			if b.DeviceTrialBlock {
				return StatusBlocked, true
			}
			return "", false
		},
	},
	{
		Name: "active_trial",
		Eval: func(b VerificationBundle) (Status, bool) {
			if b.TrialActive {
				return StatusTrial, true
			}
			return "", false
		},
	},
	{
		// A paid entitlement with a provable, unexpired expiry. Expiry is
		// judged against server time only; the client clock is untrusted.
		// An unrecognized product ID is ambiguous and forces re-verification.
		Name: "active_entitlement",
		Eval: func(b VerificationBundle) (Status, bool) {
			if !b.EntitlementActive || b.ExpiresDate == nil || b.ExpiresDate.IsZero() {
				return "", false
			}
			if !b.ExpiresDate.After(b.ServerTime) {
				return "", false
			}
			if b.ProductID != "" && !RecognizedProduct(b.ProductID) {
				return StatusLoading, true
			}
			return StatusSubscribed, true
		},
	},
	{
		// The user has bought before but this session never attempted a
		// restore; force an explicit restore before granting anything.
		Name: "restore_not_attempted",
		Eval: func(b VerificationBundle) (Status, bool) {
			if b.RestoreAttempted != nil && !*b.RestoreAttempted && b.HasPurchaseHistory {
				return StatusBlocked, true
			}
			return "", false
		},
	},
	{
		// Restore was tried and failed; show the retry affordance instead
		// of a hard block.
		Name: "restore_failed",
		Eval: func(b VerificationBundle) (Status, bool) {
			if b.RestoreAttempted != nil && *b.RestoreAttempted &&
				b.RestoreSucceeded != nil && !*b.RestoreSucceeded &&
				b.HasPurchaseHistory {
				return StatusLoading, true
			}
			return "", false
		},
	},
	{
		// An entitlement we cannot prove an expiry for fails closed.
		Name: "entitlement_without_expiry",
		Eval: func(b VerificationBundle) (Status, bool) {
			if b.EntitlementActive && (b.ExpiresDate == nil || b.ExpiresDate.IsZero()) {
				return StatusBlocked, true
			}
			return "", false
		},
	},
	{
		// Server confirms a clean slate; bootstrap a trial even if the
		// local trial-start record went missing.
		Name: "clean_slate",
		Eval: func(b VerificationBundle) (Status, bool) {
			if !b.HasPurchaseHistory && !b.HasUsedTrial {
				return StatusTrial, true
			}
			return "", false
		},
	},
	{
		// History exists and nothing is currently active: lapsed subscriber.
		Name: "lapsed",
		Eval: func(b VerificationBundle) (Status, bool) {
			if b.HasPurchaseHistory {
				return StatusBlocked, true
			}
			return "", false
		},
	},
}

// Determine maps a verification bundle to a status by walking the decision
// rules in order. It is pure and total: the same bundle always yields the
// same status, and anything no rule claims fails closed to blocked.
func Determine(b VerificationBundle) Status {
	status, _ := DetermineRule(b)
	return status
}

// DetermineRule is Determine plus the name of the rule that decided, for
// logging and tests. The empty name means the fail-closed default applied.
func DetermineRule(b VerificationBundle) (Status, string) {
	for _, r := range decisionRules {
		if status, ok := r.Eval(b); ok {
			return status, r.Name
		}
	}
	return StatusBlocked, ""
}
