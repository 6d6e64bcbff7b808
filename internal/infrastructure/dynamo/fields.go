package dynamo

// DynamoDB attribute and index names shared by the repos and Bootstrap.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	attrAccountID      = "account_id"
	attrHandle         = "handle"
	attrChallengeID    = "challenge_id"
	attrSubjectPurpose = "subject_purpose"
	attrExpiresAt      = "expires_at"
	attrConsumed       = "consumed"
	attrAttemptCount   = "attempt_count"
	attrMaxAttempts    = "max_attempts"
	attrPurgeAt        = "purge_at"

	indexSubjectPurpose = "subject_purpose-challenge_id-index"
	indexChallengeAcct  = "account_id-index"
)
