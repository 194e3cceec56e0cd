// Package vaultkeeper wires the cryptographic and policy nucleus — key
// management, token codec, claims validation, trust verification, and
// the delegated operations — into the public orchestrator: Init, Setup,
// Authorize, Fetch, Exec, GetSecret, Sign, RotateKey, RevokeKey, and
// SetDevelopmentMode.
package vaultkeeper

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mike-north/vaultkeeper-sub000/backend"
	"github.com/mike-north/vaultkeeper-sub000/internal/blocklist"
	"github.com/mike-north/vaultkeeper-sub000/internal/capability"
	"github.com/mike-north/vaultkeeper-sub000/internal/claimsvalidator"
	"github.com/mike-north/vaultkeeper-sub000/internal/delegated"
	"github.com/mike-north/vaultkeeper-sub000/internal/keymanager"
	"github.com/mike-north/vaultkeeper-sub000/internal/preflight"
	"github.com/mike-north/vaultkeeper-sub000/internal/searchindex"
	"github.com/mike-north/vaultkeeper-sub000/internal/tokencodec"
	"github.com/mike-north/vaultkeeper-sub000/internal/trust"
	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
	"github.com/zeromicro/go-zero/core/logx"
)

// Options configures a Vault at construction time.
type Options struct {
	// Preflight runs once inside Init, after backend selection. Defaults
	// to preflight.NoopCheck when nil.
	Preflight preflight.Check
	// TrustManifestPath is where the TOFU manifest is persisted. Required.
	TrustManifestPath string
	// Provenance is the optional tier-1 collaborator consulted by
	// VerifyTrust. Defaults to trust.NoopProvenance when nil.
	Provenance trust.ProvenanceVerifier
	// HTTPClient is used by Fetch. Defaults to http.DefaultClient when nil.
	HTTPClient *http.Client
}

// Vault is the orchestrator. The zero value is not usable; construct
// with New.
type Vault struct {
	cfg           *Config
	opts          Options
	registry      *backend.Registry
	activeBackend backend.Backend
	keys          *keymanager.Manager
	blocked       *blocklist.Blocklist
	trustMgr      *trust.Manager
	claims        *capability.Store
	httpClient    *http.Client
	searchIndex   *searchindex.Index

	usageMu sync.Mutex
	usage   map[string]int
}

// New constructs an uninitialized Vault bound to cfg and registry. Call
// Init before any other method.
func New(cfg *Config, registry *backend.Registry, opts Options) *Vault {
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Vault{
		cfg:        cfg,
		opts:       opts,
		registry:   registry,
		keys:       keymanager.New(),
		blocked:    blocklist.New(blocklist.DefaultCapacity),
		trustMgr:   trust.NewManager(opts.TrustManifestPath),
		claims:     capability.NewStore(),
		httpClient: client,
		usage:      make(map[string]int),
	}
}

// Init selects the first enabled, available backend from cfg, runs the
// preflight check against it, and initializes the key manager.
func (v *Vault) Init(ctx context.Context) error {
	selected, err := backend.SelectFirstAvailable(ctx, v.registry, v.cfg.BackendSpecs())
	if err != nil {
		return err
	}
	v.activeBackend = selected

	check := v.opts.Preflight
	if check == nil {
		check = preflight.NoopCheck{}
	}
	if err := check.Run(ctx); err != nil {
		return err
	}

	if v.cfg.SearchIndex != nil {
		idx, err := searchindex.Connect(v.cfg.SearchIndex.MeilisearchURL, v.cfg.SearchIndex.APIKey, v.cfg.SearchIndex.IndexName)
		if err != nil {
			return fmt.Errorf("vaultkeeper: connecting search index: %w", err)
		}
		v.searchIndex = idx
	}

	return v.keys.Init()
}

// SetupOptions customizes a Setup call.
type SetupOptions struct {
	ExecutablePath string
	UseLimit       int // 0 or tokencodec.UnlimitedUse means unlimited
	TrustTier      int // 0 means "use Config.Defaults"
}

// Setup retrieves secretName's plaintext from the active backend,
// classifies the caller's trust, and returns a freshly encrypted token.
func (v *Vault) Setup(ctx context.Context, secretName string, opts SetupOptions) (string, error) {
	if v.activeBackend == nil {
		return "", &vaulterrors.NotInitialized{Component: "vault"}
	}

	plaintext, err := v.activeBackend.Retrieve(ctx, secretName)
	if err != nil {
		return "", err
	}

	exe, tier, err := v.resolveIdentity(opts.ExecutablePath, opts.TrustTier)
	if err != nil {
		return "", err
	}

	useLimit := opts.UseLimit
	if useLimit == 0 {
		useLimit = tokencodec.UnlimitedUse
	}

	now := time.Now()
	claims := tokencodec.Claims{
		JTI: uuid.New().String(),
		IAT: now.Unix(),
		EXP: now.Add(time.Duration(v.cfg.Defaults.TTLMinutes) * time.Minute).Unix(),
		Sub: secretName,
		Exe: exe,
		Use: useLimit,
		TID: tier,
		Bkd: v.activeBackend.Type(),
		Val: plaintext,
		Ref: secretName,
	}

	current, err := v.keys.Current()
	if err != nil {
		return "", err
	}
	token, err := tokencodec.Encrypt(current.Bytes, current.ID, claims)
	if err != nil {
		return "", err
	}

	if v.searchIndex != nil {
		if err := v.searchIndex.Upsert(v.activeBackend.Type(), secretName); err != nil {
			logx.Errorf("vaultkeeper: indexing secret name: %v", err)
		}
	}

	return token, nil
}

// resolveIdentity classifies execPath as either the in-memory dev-mode
// identity or a verified executable hash, per SetupOptions.
func (v *Vault) resolveIdentity(execPath string, trustTierOverride int) (exe string, tier int, err error) {
	defaultTier := v.cfg.Defaults.TrustTier
	if trustTierOverride != 0 {
		defaultTier = trustTierOverride
	}

	if execPath == trust.DevIdentity || v.cfg.IsDevelopmentExecutable(execPath) {
		return trust.DevIdentity, defaultTier, nil
	}

	provenance := v.opts.Provenance
	if provenance == nil {
		provenance = trust.NoopProvenance
	}
	result, err := trust.VerifyTrust(v.trustMgr, execPath, trust.Options{Provenance: provenance})
	if err != nil {
		return "", 0, err
	}
	if result.Conflict {
		return "", 0, &vaulterrors.IdentityMismatch{Namespace: execPath, Previous: "approved hash set", Current: result.Hash}
	}
	return result.Hash, defaultTier, nil
}

// AuthorizeResult is returned by Authorize: the issued capability token,
// the key status it was decrypted under, and an optional rotated token
// when decryption fell back to the previous key.
type AuthorizeResult struct {
	Token        capability.Token
	KeyStatus    string // "current" or "previous"
	RotatedToken string // non-empty only when KeyStatus == "previous"
}

// Authorize validates token, records its usage, and issues a capability
// handle for it. If token was encrypted under the previous key (mid
// grace period), a freshly re-encrypted token under the current key is
// also returned.
func (v *Vault) Authorize(tokenStr string) (AuthorizeResult, error) {
	kid, hasKid, err := tokencodec.ExtractKid(tokenStr)
	if err != nil {
		return AuthorizeResult{}, err
	}

	var key keymanager.Material
	var keyStatus string

	if hasKid {
		mat, found, findErr := v.keys.Find(kid)
		if findErr != nil {
			return AuthorizeResult{}, findErr
		}
		if !found {
			return AuthorizeResult{}, &vaulterrors.KeyRevoked{KID: kid}
		}
		key = mat
		current, curErr := v.keys.Current()
		if curErr != nil {
			return AuthorizeResult{}, curErr
		}
		if mat.ID == current.ID {
			keyStatus = "current"
		} else {
			keyStatus = "previous"
		}
	} else {
		key, err = v.keys.Current()
		if err != nil {
			return AuthorizeResult{}, err
		}
		keyStatus = "current"
	}

	claims, err := tokencodec.Decrypt(key.Bytes, tokenStr)
	if err != nil {
		if hasKid {
			// The kid pins an exact key; if that key's bytes don't
			// decrypt it, there's no other key left to retry.
			return AuthorizeResult{}, err
		}

		previous, found, prevErr := v.keys.Previous()
		if prevErr != nil {
			return AuthorizeResult{}, prevErr
		}
		if !found {
			return AuthorizeResult{}, &vaulterrors.DecryptionFailed{Err: err}
		}
		retried, retryErr := tokencodec.Decrypt(previous.Bytes, tokenStr)
		if retryErr != nil {
			return AuthorizeResult{}, &vaulterrors.DecryptionFailed{Err: err}
		}
		claims = retried
		key = previous
		keyStatus = "previous"
	}

	v.usageMu.Lock()
	if err := claimsvalidator.Validate(claims, v.blocked, v.usage[claims.JTI]); err != nil {
		v.usageMu.Unlock()
		return AuthorizeResult{}, err
	}

	next, budgetReached := claimsvalidator.RecordUsage(claims, v.usage[claims.JTI])
	if budgetReached {
		delete(v.usage, claims.JTI)
		v.blocked.Add(claims.JTI)
	} else {
		v.usage[claims.JTI] = next
	}
	v.usageMu.Unlock()

	handle := v.claims.Issue(claims)
	result := AuthorizeResult{Token: handle, KeyStatus: keyStatus}

	if keyStatus == "previous" {
		current, curErr := v.keys.Current()
		if curErr != nil {
			return AuthorizeResult{}, curErr
		}
		rotated, encErr := tokencodec.Encrypt(current.Bytes, current.ID, claims)
		if encErr != nil {
			return AuthorizeResult{}, encErr
		}
		result.RotatedToken = rotated
	}

	return result, nil
}

func (v *Vault) lookupClaims(tok capability.Token) (tokencodec.Claims, error) {
	return v.claims.Lookup(tok)
}

// GetSecret returns a single-use accessor over tok's secret.
func (v *Vault) GetSecret(tok capability.Token) (*capability.Accessor, error) {
	claims, err := v.lookupClaims(tok)
	if err != nil {
		return nil, err
	}
	return capability.NewAccessor(claims.Val), nil
}

// Fetch performs a delegated HTTP call, substituting {{secret}} in req
// with tok's secret value. The secret never appears in the response.
func (v *Vault) Fetch(ctx context.Context, tok capability.Token, req delegated.FetchRequest) (delegated.FetchResponse, error) {
	claims, err := v.lookupClaims(tok)
	if err != nil {
		return delegated.FetchResponse{}, err
	}
	return delegated.Fetch(ctx, v.httpClient, req, claims.Val)
}

// Exec performs a delegated child-process spawn, substituting {{secret}}
// in req's args and env with tok's secret value and redacting it from
// captured stdout/stderr.
func (v *Vault) Exec(ctx context.Context, tok capability.Token, req delegated.ExecRequest) (delegated.ExecResult, error) {
	claims, err := v.lookupClaims(tok)
	if err != nil {
		return delegated.ExecResult{}, err
	}
	return delegated.Exec(ctx, req, claims.Val)
}

// Sign performs a delegated signature over req.Data using tok's secret
// as the PEM-encoded private key.
func (v *Vault) Sign(tok capability.Token, req delegated.SignRequest) (delegated.SignResult, error) {
	claims, err := v.lookupClaims(tok)
	if err != nil {
		return delegated.SignResult{}, err
	}
	return delegated.Sign([]byte(claims.Val), req)
}

// RotateKey promotes the current signing key to previous and generates a
// fresh current key, per Config.KeyRotation.GracePeriodDays.
func (v *Vault) RotateKey() error {
	gracePeriod := time.Duration(v.cfg.KeyRotation.GracePeriodDays) * 24 * time.Hour
	return v.keys.Rotate(gracePeriod)
}

// RevokeKey immediately discards any grace-period key and generates a
// fresh current key, invalidating all previously issued tokens.
func (v *Vault) RevokeKey() error {
	return v.keys.Revoke()
}

// SetDevelopmentMode mutates the in-memory development-mode allowlist.
// Persisting the change to the config file is the caller's
// responsibility.
func (v *Vault) SetDevelopmentMode(execPath string, enabled bool) {
	if v.cfg.DevelopmentMode == nil {
		v.cfg.DevelopmentMode = &DevelopmentMode{}
	}
	list := v.cfg.DevelopmentMode.Executables
	idx := -1
	for i, e := range list {
		if e == execPath {
			idx = i
			break
		}
	}
	switch {
	case enabled && idx < 0:
		v.cfg.DevelopmentMode.Executables = append(list, execPath)
	case !enabled && idx >= 0:
		v.cfg.DevelopmentMode.Executables = append(list[:idx], list[idx+1:]...)
	}
}

// ActiveBackendType returns the type of the backend Init selected, or an
// empty string before Init has run.
func (v *Vault) ActiveBackendType() string {
	if v.activeBackend == nil {
		return ""
	}
	return v.activeBackend.Type()
}

// searchIndexListLimit bounds the aggregate name lookup against the
// search index; it is large enough to cover any realistic secret count
// without requiring pagination.
const searchIndexListLimit = 10000

// List enumerates secret names across the active backend. When a
// search index is configured, its indexed names are aggregated with
// whatever the active backend reports (if it is Listable); without a
// search index, List falls back to the backend's direct List() call,
// which fails if the backend isn't Listable at all.
func (v *Vault) List(ctx context.Context) ([]string, error) {
	if v.activeBackend == nil {
		return nil, &vaulterrors.NotInitialized{Component: "vault"}
	}

	listable, ok := v.activeBackend.(backend.Listable)

	if v.searchIndex == nil {
		if !ok {
			return nil, fmt.Errorf("vaultkeeper: active backend %q does not support listing", v.activeBackend.Type())
		}
		return listable.List(ctx)
	}

	indexed, err := v.searchIndex.Search("", v.activeBackend.Type(), searchIndexListLimit)
	if err != nil {
		return nil, fmt.Errorf("vaultkeeper: searching index: %w", err)
	}

	seen := make(map[string]struct{}, len(indexed))
	names := make([]string, 0, len(indexed))
	for _, name := range indexed {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	if ok {
		fromBackend, err := listable.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, name := range fromBackend {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}

	return names, nil
}
