package model

// The API answers with exactly one of the shapes below. They form a tagged
// sum internally; on the wire only the chosen branch's fields serialize.

// VerifyAck acknowledges an async verification submission.
type VerifyAck struct {
	Status    JobStatus `json:"status"`
	RequestID string    `json:"request_id"`
	Message   string    `json:"message,omitempty"`
}

// StatusResponse is the one-line verdict for a program.
type StatusResponse struct {
	IsVerified     bool   `json:"is_verified"`
	Message        string `json:"message"`
	OnChainHash    string `json:"on_chain_hash"`
	ExecutableHash string `json:"executable_hash"`
	RepoURL        string `json:"repo_url"`
	Commit         string `json:"commit"`
	LastVerifiedAt *int64 `json:"last_verified_at"` // unix seconds, null if never verified
	Signer         string `json:"signer,omitempty"`
}

// SignerStatus is one per-signer entry in a status-all answer.
type SignerStatus struct {
	Signer         string `json:"signer"`
	IsVerified     bool   `json:"is_verified"`
	IsFrozen       bool   `json:"is_frozen"`
	OnChainHash    string `json:"on_chain_hash"`
	ExecutableHash string `json:"executable_hash"`
	RepoURL        string `json:"repo_url"`
	Commit         string `json:"commit"`
	LastVerifiedAt *int64 `json:"last_verified_at"`
}

// ProgramStatus is one entry of the fleet status listing.
type ProgramStatus struct {
	ProgramID string `json:"program_id"`
	StatusResponse
}

// JobResponse reports the state of a single build job.
type JobResponse struct {
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
}

// WebhookNotification is POSTed to the submitter's webhook when an async
// verification finishes.
type WebhookNotification struct {
	Status         JobStatus `json:"status"`
	RequestID      string    `json:"request_id"`
	OnChainHash    string    `json:"on_chain_hash"`
	ExecutableHash string    `json:"executable_hash"`
	Message        string    `json:"message"`
}
