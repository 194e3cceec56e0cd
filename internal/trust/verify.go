package trust

import (
	"github.com/mike-north/vaultkeeper-sub000/internal/hashutil"
)

// DevIdentity is the sentinel executable path meaning "skip verification,
// run as tier-3 developer mode", used in place of a real executable hash.
const DevIdentity = "dev"

// ProvenanceVerifier is the optional tier-1 collaborator: an external
// signer/attestation check run before falling back to the manifest. The
// zero value of Options uses noopProvenance, which always reports no
// provenance available.
type ProvenanceVerifier interface {
	Verify(execPath, hash string) (ok bool, err error)
}

type noopProvenance struct{}

func (noopProvenance) Verify(string, string) (bool, error) { return false, nil }

// NoopProvenance is the default ProvenanceVerifier: tier 1 is never
// available.
var NoopProvenance ProvenanceVerifier = noopProvenance{}

// Options configures a single VerifyTrust call.
type Options struct {
	// Namespace groups trust entries; defaults to execPath when empty.
	Namespace string
	// Provenance is consulted for tier-1 verification before falling back
	// to the manifest. Defaults to NoopProvenance.
	Provenance ProvenanceVerifier
}

// Result is the outcome of a VerifyTrust call.
type Result struct {
	Hash     string
	Tier     int
	Verified bool
	Conflict bool
	Reason   string
}

// VerifyTrust classifies execPath's trust level against the manifest
// persisted at mgr's path, writing back the manifest only on a first-use
// or tier-1 verification — never on a TOFU conflict.
func VerifyTrust(mgr *Manager, execPath string, opts Options) (Result, error) {
	if execPath == DevIdentity {
		return Result{Hash: DevIdentity, Tier: 3, Verified: false, Conflict: false, Reason: "dev mode"}, nil
	}

	namespace := opts.Namespace
	if namespace == "" {
		namespace = execPath
	}
	provenance := opts.Provenance
	if provenance == nil {
		provenance = NoopProvenance
	}

	hash, err := hashutil.FileSHA256(execPath)
	if err != nil {
		return Result{}, err
	}

	var result Result
	err = mgr.withLock(func() error {
		manifest, loadErr := Load(mgr.inner.path)
		if loadErr != nil {
			return loadErr
		}

		if ok, provErr := provenance.Verify(execPath, hash); provErr != nil {
			return provErr
		} else if ok {
			updated := AddTrusted(manifest, namespace, hash)
			if saveErr := Save(mgr.inner.path, updated); saveErr != nil {
				return saveErr
			}
			result = Result{Hash: hash, Tier: 1, Verified: true}
			return nil
		}

		entry, hasEntry := manifest.Entries[namespace]
		if hasEntry {
			if _, known := entry.Hashes[hash]; known {
				result = Result{Hash: hash, Tier: 2, Verified: true}
				return nil
			}
			if len(entry.Hashes) > 0 {
				result = Result{Hash: hash, Tier: 3, Verified: false, Conflict: true}
				return nil
			}
		}

		updated := AddTrusted(manifest, namespace, hash)
		if saveErr := Save(mgr.inner.path, updated); saveErr != nil {
			return saveErr
		}
		result = Result{Hash: hash, Tier: 3, Verified: false, Conflict: false}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}
