package provision

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profiles manages the application-side profile records.
type Profiles interface {
	repository.Repository[*Profile]

	CreateProfile(ctx context.Context, record *Profile, opts ...ProfileCreateOption) (*Profile, error)
	CreateProfileTx(ctx context.Context, tx bun.IDB, record *Profile, opts ...ProfileCreateOption) (*Profile, error)
	GetByAccountID(ctx context.Context, id uuid.UUID) (*Profile, error)
	GetByAccountIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Profile, error)
	GetByEmail(ctx context.Context, email string) (*Profile, error)
	Exists(ctx context.Context, email string) (bool, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields ProfileUpdate) (*Profile, error)
	Rekey(ctx context.Context, oldID, newID uuid.UUID) error
	ListPublicSuppliers(ctx context.Context) ([]*Profile, error)
	CountRegistered(ctx context.Context) (int, error)
}

// ProfileUpdate is the set of caller-editable fields. Zero values are
// skipped; pointer fields distinguish "clear" from "leave alone".
type ProfileUpdate struct {
	FullName           string
	Phone              string
	CompanyName        string
	BusinessLicense    string
	Address            string
	SupplierStatus     SupplierStatus
	Status             ProfileStatus
	EmailVerified      *bool
	VerificationMethod string
}

type profileCreateOptions struct {
	bootstrap bool
}

// ProfileCreateOption customizes profile creation.
type ProfileCreateOption func(*profileCreateOptions)

// WithBootstrapProvision marks the record as a reserved bootstrap
// administrator: inserted pre-verified, skips the first-registrant count.
func WithBootstrapProvision() ProfileCreateOption {
	return func(o *profileCreateOptions) {
		o.bootstrap = true
	}
}

type profiles struct {
	repository.Repository[*Profile]
	db     *bun.DB
	logger Logger
	sink   ActivitySink
}

var (
	_ Profiles                        = (*profiles)(nil)
	_ repository.Repository[*Profile] = (*profiles)(nil)
)

// ProfilesOption customizes the repository.
type ProfilesOption func(*profiles)

// WithProfilesLogger overrides the default logger.
func WithProfilesLogger(l Logger) ProfilesOption {
	return func(p *profiles) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithProfilesActivitySink publishes repair events to the given sink.
func WithProfilesActivitySink(sink ActivitySink) ProfilesOption {
	return func(p *profiles) {
		p.sink = normalizeActivitySink(sink)
	}
}

// NewProfilesRepository builds the Profiles store on top of bun.
func NewProfilesRepository(db *bun.DB, opts ...ProfilesOption) Profiles {
	repo := repository.NewRepository[*Profile](db, repository.ModelHandlers[*Profile]{
		NewRecord: func() *Profile { return &Profile{} },
		GetID: func(p *Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	repoProfiles := &profiles{
		Repository: repo,
		db:         db,
		logger:     defLogger{},
		sink:       noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoProfiles)
		}
	}

	return repoProfiles
}

func (p *profiles) CreateProfile(ctx context.Context, record *Profile, opts ...ProfileCreateOption) (*Profile, error) {
	return p.CreateProfileTx(ctx, p.db, record, opts...)
}

func (p *profiles) CreateProfileTx(ctx context.Context, tx bun.IDB, record *Profile, opts ...ProfileCreateOption) (*Profile, error) {
	options := &profileCreateOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	prepareProfileDefaults(record)

	if options.bootstrap {
		record.Role = RoleAdmin
		record.EmailVerified = true
		record.VerificationMethod = VerificationBootstrap
	} else {
		record.EmailVerified = false
		record.VerificationMethod = VerificationPending

		// The very first registrant becomes the administrator no matter
		// what role they asked for.
		count, err := p.countRegisteredTx(ctx, tx)
		if err != nil {
			return nil, wrapStoreError(err, "failed to count existing profiles")
		}
		if count == 0 {
			record.Role = RoleAdmin
		}
	}

	record.EnsureSupplierStatus()

	created, err := p.Repository.CreateTx(ctx, tx, record)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, err
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create profile").
			WithTextCode(TextCodeProfileCreation)
	}

	return created, nil
}

// GetByAccountID loads the single profile for an account. When legacy data
// holds more than one row for the id the duplicates are resolved in place:
// the admin row wins, else the most recently created one, and the losers are
// removed. Deleting rows a concurrent repair already removed is not an error.
func (p *profiles) GetByAccountID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return p.GetByAccountIDTx(ctx, p.db, id)
}

func (p *profiles) GetByAccountIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Profile, error) {
	var rows []*Profile
	err := tx.NewSelect().
		Model(&rows).
		Where("?TableAlias.id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, wrapStoreError(err, "failed to load profile")
	}

	switch len(rows) {
	case 0:
		return nil, detail(ErrProfileMissing, map[string]any{"id": id.String()})
	case 1:
		return rows[0], nil
	}

	winner := resolveDuplicateProfiles(rows)

	// Duplicates share the id, so there is no discriminating column to
	// delete by: remove every row for the id and re-insert the winner. Safe
	// to run concurrently; a repair that raced us just deletes zero rows.
	res, err := tx.NewDelete().
		Model((*Profile)(nil)).
		Where("?TableAlias.id = ?", id).
		ForceDelete().
		Exec(ctx)
	if err != nil {
		// Leave the duplicates for the next read; the winner is still valid.
		p.logger.Warn("duplicate profile repair failed for %s: %v", id, err)
		return winner, nil
	}

	if _, err := tx.NewInsert().Model(winner).Exec(ctx); err != nil {
		p.logger.Warn("duplicate profile repair reinsert failed for %s: %v", id, err)
		return winner, nil
	}

	deleted, _ := res.RowsAffected()
	emitActivity(ctx, p.sink, p.logger, ActivityEvent{
		EventType: ActivityEventProfileRepaired,
		ProfileID: id.String(),
		Email:     winner.Email,
		Metadata:  map[string]any{"duplicates_removed": deleted - 1},
	})

	return winner, nil
}

// resolveDuplicateProfiles picks exactly one row: admin preferred, else the
// newest by creation time.
func resolveDuplicateProfiles(rows []*Profile) *Profile {
	winner := rows[0]
	for _, row := range rows[1:] {
		if row.IsAdmin() && !winner.IsAdmin() {
			winner = row
			continue
		}
		if winner.IsAdmin() && !row.IsAdmin() {
			continue
		}
		if profileCreatedAfter(row, winner) {
			winner = row
		}
	}
	return winner
}

func profileCreatedAfter(a, b *Profile) bool {
	if a.CreatedAt == nil {
		return false
	}
	if b.CreatedAt == nil {
		return true
	}
	return a.CreatedAt.After(*b.CreatedAt)
}

func (p *profiles) GetByEmail(ctx context.Context, email string) (*Profile, error) {
	record := &Profile{}
	err := p.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, detail(ErrProfileMissing, map[string]any{"email": email})
		}
		return nil, wrapStoreError(err, "failed to load profile by email")
	}
	return record, nil
}

func (p *profiles) Exists(ctx context.Context, email string) (bool, error) {
	exists, err := p.db.NewSelect().
		Model((*Profile)(nil)).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Exists(ctx)
	if err != nil {
		return false, wrapStoreError(err, "failed to check profile existence")
	}
	return exists, nil
}

func (p *profiles) UpdateFields(ctx context.Context, id uuid.UUID, fields ProfileUpdate) (*Profile, error) {
	record, err := p.GetByAccountID(ctx, id)
	if err != nil {
		return nil, err
	}

	if fields.FullName != "" {
		record.FullName = fields.FullName
	}
	if fields.Phone != "" {
		record.Phone = fields.Phone
	}
	if fields.CompanyName != "" {
		record.CompanyName = fields.CompanyName
	}
	if fields.BusinessLicense != "" {
		record.BusinessLicense = fields.BusinessLicense
	}
	if fields.Address != "" {
		record.Address = fields.Address
	}
	if fields.SupplierStatus != "" {
		record.SupplierStatus = fields.SupplierStatus
	}
	if fields.Status != "" {
		record.Status = fields.Status
	}
	if fields.EmailVerified != nil {
		record.EmailVerified = *fields.EmailVerified
	}
	if fields.VerificationMethod != "" {
		record.VerificationMethod = fields.VerificationMethod
	}

	record.EnsureSupplierStatus()
	now := time.Now()
	record.UpdatedAt = &now

	updated, err := p.Repository.UpdateTx(ctx, p.db, record, repository.UpdateByID(id.String()))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, detail(ErrProfileMissing, map[string]any{"id": id.String()})
		}
		return nil, wrapStoreError(err, "failed to update profile")
	}

	return updated, nil
}

// Rekey moves a profile to a fresh account id. Used by the bootstrap
// administrator self-heal when a stale profile exists under an id the
// provider no longer knows.
func (p *profiles) Rekey(ctx context.Context, oldID, newID uuid.UUID) error {
	now := time.Now()
	res, err := p.db.NewUpdate().
		Model((*Profile)(nil)).
		Set("id = ?", newID).
		Set("updated_at = ?", now).
		Where("id = ?", oldID).
		Exec(ctx)
	if err != nil {
		return wrapStoreError(err, "failed to rekey profile")
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		return detail(ErrProfileMissing, map[string]any{"id": oldID.String()})
	}

	return nil
}

func (p *profiles) ListPublicSuppliers(ctx context.Context) ([]*Profile, error) {
	var rows []*Profile
	err := p.db.NewSelect().
		Model(&rows).
		Where("?TableAlias.role = ?", RoleSupplier).
		Where("?TableAlias.status = ?", ProfileStatusActive).
		Where("?TableAlias.supplier_status IN (?)", bun.In([]SupplierStatus{SupplierVerified, SupplierTrusted})).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapStoreError(err, "failed to list public suppliers")
	}
	return rows, nil
}

func (p *profiles) CountRegistered(ctx context.Context) (int, error) {
	return p.countRegisteredTx(ctx, p.db)
}

// countRegisteredTx counts ordinary registrants. Reserved bootstrap
// administrator rows do not count: the first real registrant is promoted
// even when a bootstrap admin was provisioned before them.
func (p *profiles) countRegisteredTx(ctx context.Context, tx bun.IDB) (int, error) {
	return tx.NewSelect().
		Model((*Profile)(nil)).
		Where("?TableAlias.verification_method != ?", VerificationBootstrap).
		Count(ctx)
}

func prepareProfileDefaults(record *Profile) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = RoleBuyer
	}

	record.Email = NormalizeEmail(record.Email)
	record.EnsureStatus()

	if record.AccountCode == "" {
		record.AccountCode = GenerateAccountCode(record.Role)
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}
