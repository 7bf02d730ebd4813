package models

import "time"

// CredentialVersion is the on-disk format version of the credential
// record.
const CredentialVersion = "2"

// NoRecoveryMarker fills the recovery artifact fields when no recovery
// questions have been configured.
const NoRecoveryMarker = "NO_RECOVERY_SETUP"

// RecoveryQuestion holds one question with its salted answer hash. The
// answer itself is never stored.
type RecoveryQuestion struct {
	Question   string `json:"question"`
	AnswerHash string `json:"answer_hash"` // bcrypt over normalized answer+salt
	Salt       string `json:"salt"`        // base64
}

// Credential is the vault's single configuration record. It carries the
// verification hashes and both unlock paths' wrapped key artifacts; all
// binary fields are base64 encoded.
//
// Each path stores the master key wrapped under that path's encoder
// key, and the encoder key wrapped under a key derived from the path's
// secret. The wrapped encoder blobs are prefixed with their derivation
// salt. The two paths share nothing but the master key value.
type Credential struct {
	ID           string `json:"id"`
	PasswordHash string `json:"password_hash"` // bcrypt, verification only
	PasswordHint string `json:"password_hint,omitempty"`

	// Password path.
	WrappedMasterPW  string `json:"wrapped_master_pw"`
	WrappedEncoderPW string `json:"wrapped_encoder_pw"`

	// Recovery path, or NoRecoveryMarker in both fields.
	WrappedMasterRec  string             `json:"wrapped_master_rec"`
	WrappedEncoderRec string             `json:"wrapped_encoder_rec"`
	Questions         []RecoveryQuestion `json:"questions,omitempty"`

	FormatVersion string    `json:"format_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RecoveryConfigured reports whether the recovery path exists.
func (c *Credential) RecoveryConfigured() bool {
	return c.WrappedMasterRec != NoRecoveryMarker &&
		c.WrappedEncoderRec != NoRecoveryMarker &&
		len(c.Questions) > 0
}

// LockoutStatus describes the recovery rate-limit state.
type LockoutStatus struct {
	Locked             bool          `json:"locked"`
	Remaining          time.Duration `json:"remaining"`
	FailedAttempts     int           `json:"failed_attempts"`
	RecoveryConfigured bool          `json:"recovery_configured"`
}

// Issue is one discrepancy found by a whole-store integrity sweep. ID
// names the offending file or folder node.
type Issue struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}
