package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"signals-backend/application/ports"
	"signals-backend/domain/config"
	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
	"signals-backend/domain/events"
	pkgerrors "signals-backend/pkg/errors"
)

const maxSettingsWriteAttempts = 3

// AccountRegistry owns a realm's AI accounts and the default-account policy.
type AccountRegistry struct {
	realms   ports.RealmRepository
	uow      ports.UnitOfWorkFactory
	validate *validator.Validate
	cfg      *config.DomainConfig
	logger   *zap.Logger
}

// NewAccountRegistry creates a new account registry
func NewAccountRegistry(
	realms ports.RealmRepository,
	uow ports.UnitOfWorkFactory,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) *AccountRegistry {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &AccountRegistry{
		realms:   realms,
		uow:      uow,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cfg:      cfg,
		logger:   logger,
	}
}

// Resolve picks the account an operation in realm must use.
//
// An explicit id must name a configured account. Otherwise the default account wins, then
// a sole configured account. Zero accounts is AccountNotConfigured; several accounts with
// no default is AccountAmbiguous.
func (r *AccountRegistry) Resolve(realm *entities.Realm, requestedID string) (valueobjects.LLMAccount, error) {
	settings := realm.Settings()

	if requestedID != "" {
		account, ok := settings.Account(requestedID)
		if !ok {
			return valueobjects.LLMAccount{}, pkgerrors.NewAccountNotConfiguredError(
				fmt.Sprintf("account %q is not configured in this realm", requestedID))
		}
		return account, nil
	}

	if settings.DefaultAccountID != "" {
		account, ok := settings.Account(settings.DefaultAccountID)
		if !ok {
			r.logger.Error("Default account missing from realm settings",
				zap.String("realmID", realm.ID()),
				zap.String("defaultAccountID", settings.DefaultAccountID))
			return valueobjects.LLMAccount{}, pkgerrors.NewAccountNotConfiguredError(
				fmt.Sprintf("default account %q is not configured", settings.DefaultAccountID))
		}
		return account, nil
	}

	switch len(settings.Accounts) {
	case 0:
		return valueobjects.LLMAccount{}, pkgerrors.NewAccountNotConfiguredError("no AI account is configured for this realm")
	case 1:
		return settings.Accounts[0], nil
	default:
		return valueobjects.LLMAccount{}, pkgerrors.NewAccountAmbiguousError(
			fmt.Sprintf("%d accounts are configured and none is the default; pass an account id", len(settings.Accounts)))
	}
}

// ValidateSettings checks a settings blob against its schema and structural rules.
func (r *AccountRegistry) ValidateSettings(settings valueobjects.LLMSettings) error {
	if err := r.validate.Struct(settings); err != nil {
		return validationError(err)
	}
	if len(settings.Accounts) > r.cfg.MaxAccountsPerRealm {
		return pkgerrors.NewValidationError(
			fmt.Sprintf("at most %d accounts may be configured", r.cfg.MaxAccountsPerRealm))
	}
	return settings.Validate()
}

// Update replaces the realm's whole settings blob. The write is checked against the latest
// stored realm; a concurrent writer causes a reload and re-validation.
func (r *AccountRegistry) Update(ctx context.Context, realmID string, settings valueobjects.LLMSettings) (*entities.Realm, error) {
	if err := r.ValidateSettings(settings); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxSettingsWriteAttempts; attempt++ {
		realm, err := r.realms.GetByID(ctx, realmID)
		if err != nil {
			return nil, err
		}
		if err := realm.ReplaceSettings(settings); err != nil {
			return nil, err
		}

		uow, err := r.uow.Begin(ctx)
		if err != nil {
			return nil, err
		}
		uow.RegisterRealm(realm)
		uow.RegisterEvent(events.NewRealmSettingsUpdated(
			realm.ID(), len(settings.Accounts), settings.DefaultAccountID, settings.AutoAnalyze, time.Now()))

		commitCtx, cancel := context.WithTimeout(ctx, r.cfg.CommitTimeout)
		err = uow.Commit(commitCtx)
		cancel()
		if err == nil {
			r.logger.Info("Realm LLM settings replaced",
				zap.String("realmID", realmID),
				zap.Int("accounts", len(settings.Accounts)),
				zap.String("defaultAccountID", settings.DefaultAccountID))
			return realm, nil
		}
		if !pkgerrors.IsConflict(err) {
			return nil, err
		}
		lastErr = err
		r.logger.Debug("Realm settings write lost a race, retrying",
			zap.String("realmID", realmID), zap.Int("attempt", attempt))
	}
	return nil, lastErr
}

// validationError turns validator output into a single Validation AppError.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return pkgerrors.NewValidationError(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	details := make(map[string]interface{}, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
		details[fe.Namespace()] = fe.Tag()
	}
	return pkgerrors.NewValidationError(strings.Join(msgs, "; ")).WithDetails(details)
}
