// Package model defines the persistent entities and wire types shared by the
// verification service: builds, verified programs, authority rows, and the
// request/response shapes served over HTTP.
package model

import "time"

// JobStatus is the lifecycle state of a single verification attempt.
type JobStatus string

const (
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	// JobUnused exists in historical rows; no current code path writes it.
	// Read paths map it to a failed response.
	JobUnused JobStatus = "unused"
)

// SystemSigner is the zero address. A build recorded with this signer means
// the submitter did not claim a specific on-chain signer.
const SystemSigner = "11111111111111111111111111111111"

// TrustedSigners are accepted for status queries that do not name a signer:
// the zero address plus the two operator keys that maintain the public
// verification registry.
var TrustedSigners = []string{
	SystemSigner,
	"9VWiUUhgNoRwTH5NVehYJEDwcotwYX3VgW4MChiHPAqU",
	"86xCnPeV69n6t3DnyGvkKobf9FdN2H9oiVDdaMpo2MMY",
}

// IsTrustedSigner reports whether s is a member of TrustedSigners.
func IsTrustedSigner(s string) bool {
	for _, t := range TrustedSigners {
		if t == s {
			return true
		}
	}
	return false
}

// BuildParams are the reproducible-build inputs for one program. Optional
// fields are pointers so an unset field places no constraint on
// deduplication.
type BuildParams struct {
	ProgramID  string   `json:"program_id"`
	Repository string   `json:"repository"`
	Commit     *string  `json:"commit,omitempty"`
	LibName    *string  `json:"lib_name,omitempty"`
	BaseImage  *string  `json:"base_image,omitempty"`
	MountPath  *string  `json:"mount_path,omitempty"`
	CargoArgs  []string `json:"cargo_args,omitempty"`
	BPFFlag    bool     `json:"bpf_flag,omitempty"`
	Arch       *string  `json:"arch,omitempty"`
}

// Build is a single verification attempt.
type Build struct {
	ID         string    `json:"id"`
	ProgramID  string    `json:"program_id"`
	Repository string    `json:"repository"`
	Commit     *string   `json:"commit,omitempty"`
	LibName    *string   `json:"lib_name,omitempty"`
	BaseImage  *string   `json:"base_image,omitempty"`
	MountPath  *string   `json:"mount_path,omitempty"`
	CargoArgs  []string  `json:"cargo_args,omitempty"`
	BPFFlag    bool      `json:"bpf_flag"`
	Arch       *string   `json:"arch,omitempty"`
	Signer     string    `json:"signer"`
	Status     JobStatus `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Params returns the build's reproducible-build inputs.
func (b *Build) Params() BuildParams {
	return BuildParams{
		ProgramID:  b.ProgramID,
		Repository: b.Repository,
		Commit:     b.Commit,
		LibName:    b.LibName,
		BaseImage:  b.BaseImage,
		MountPath:  b.MountPath,
		CargoArgs:  b.CargoArgs,
		BPFFlag:    b.BPFFlag,
		Arch:       b.Arch,
	}
}

// NewBuild constructs a Build from params with the given id and signer.
func NewBuild(id string, p BuildParams, signer string, status JobStatus) Build {
	if signer == "" {
		signer = SystemSigner
	}
	return Build{
		ID:         id,
		ProgramID:  p.ProgramID,
		Repository: p.Repository,
		Commit:     p.Commit,
		LibName:    p.LibName,
		BaseImage:  p.BaseImage,
		MountPath:  p.MountPath,
		CargoArgs:  p.CargoArgs,
		BPFFlag:    p.BPFFlag,
		Arch:       p.Arch,
		Signer:     signer,
		Status:     status,
		CreatedAt:  time.Now().UTC(),
	}
}

// VerifiedProgram is the latest known hash comparison for a program. The
// newest row per (program_id, build signer) is authoritative.
type VerifiedProgram struct {
	ID             string    `json:"id"`
	ProgramID      string    `json:"program_id"`
	IsVerified     bool      `json:"is_verified"`
	OnChainHash    string    `json:"on_chain_hash"`
	ExecutableHash string    `json:"executable_hash"`
	VerifiedAt     time.Time `json:"verified_at"`
	BuildID        string    `json:"build_id"`
}

// ProgramAuthority caches the chain's view of a program's upgrade authority.
type ProgramAuthority struct {
	ProgramID   string    `json:"program_id"`
	Authority   *string   `json:"authority"`
	IsFrozen    bool      `json:"is_frozen"`
	IsClosed    bool      `json:"is_closed"`
	LastUpdated time.Time `json:"last_updated"`
}

// BuildLog points at the external log artifact for one build.
type BuildLog struct {
	ID           string    `json:"id"`
	ProgramID    string    `json:"program_id"`
	ArtifactName string    `json:"file_name"`
	CreatedAt    time.Time `json:"created_at"`
}
