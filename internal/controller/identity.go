package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"oneiro/internal/models"
	"oneiro/internal/store"
)

// Persisted identity keys. All of id, firstName, dob and phone must be
// present together for the profile to count as registered; anything less is
// treated as no identity. The lastName key is simply absent when the user
// has no last name.
const (
	keyUserID    = "dream_user_id"
	keyFirstName = "dream_user_firstName"
	keyLastName  = "dream_user_lastName"
	keyDOB       = "dream_user_dob"
	keyPhone     = "dream_user_phone"
)

const guestWelcome = "Здравствуйте! Я - ваш персональный толкователь снов. Расскажите, что вам приснилось, и я помогу раскрыть тайны вашего подсознания."

func registeredWelcome(firstName string) string {
	return fmt.Sprintf("Здравствуйте, %s! Я - ваш персональный толкователь снов. Расскажите, что вам приснилось, и я помогу раскрыть тайны вашего подсознания.", firstName)
}

func historyUnavailable(firstName string) string {
	return fmt.Sprintf("Здравствуйте, %s! Не удалось загрузить вашу историю переписки. Но вы можете начать новый диалог.", firstName)
}

// LoadIdentity reads the persisted profile. A partial profile yields nil.
func LoadIdentity(ctx context.Context, st store.Store) (*models.User, error) {
	required := make(map[string]string, 4)
	for _, key := range []string{keyUserID, keyFirstName, keyDOB, keyPhone} {
		value, err := st.Get(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("load identity: %w", err)
		}
		required[key] = value
	}
	id, err := strconv.ParseInt(required[keyUserID], 10, 64)
	if err != nil {
		return nil, nil
	}
	user := &models.User{
		ID:        id,
		FirstName: required[keyFirstName],
		DOB:       required[keyDOB],
		Phone:     required[keyPhone],
	}
	if last, err := st.Get(ctx, keyLastName); err == nil {
		user.LastName = &last
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	return user, nil
}

func saveIdentity(ctx context.Context, st store.Store, user *models.User) error {
	pairs := map[string]string{
		keyUserID:    strconv.FormatInt(user.ID, 10),
		keyFirstName: user.FirstName,
		keyDOB:       user.DOB,
		keyPhone:     user.Phone,
	}
	for key, value := range pairs {
		if err := st.Set(ctx, key, value); err != nil {
			return fmt.Errorf("save identity: %w", err)
		}
	}
	if user.LastName != nil {
		if err := st.Set(ctx, keyLastName, *user.LastName); err != nil {
			return fmt.Errorf("save identity: %w", err)
		}
	} else if err := st.Delete(ctx, keyLastName); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

func clearIdentity(ctx context.Context, st store.Store) error {
	if err := st.Delete(ctx, keyUserID, keyFirstName, keyLastName, keyDOB, keyPhone); err != nil {
		return fmt.Errorf("clear identity: %w", err)
	}
	return nil
}

// Initialize enters the tier for the given identity. For a registered user
// it fetches history from the gateway; while the fetch is pending the
// controller reports a loading state and accepts no turns. For a guest it
// synthesizes the welcome message and mirrors the persisted quota flag.
func (c *Controller) Initialize(ctx context.Context, identity *models.User) error {
	hasQuota, err := c.gate.HasQuota(ctx)
	if err != nil {
		return err
	}

	if identity == nil {
		c.do(func() {
			c.abandonTurn()
			c.identity = nil
			c.quotaUsed = !hasQuota
			c.guestTimeline = []models.Message{{Role: models.RoleBot, Text: guestWelcome}}
		})
		return nil
	}

	c.do(func() {
		c.abandonTurn()
		c.identity = identity
		c.quotaUsed = !hasQuota
		c.loading = true
		c.userTimeline = nil
	})

	history, fetchErr := c.gateway.FetchHistory(ctx, identity.ID)

	c.do(func() {
		c.loading = false
		switch {
		case fetchErr != nil:
			c.userTimeline = []models.Message{{Role: models.RoleBot, Text: historyUnavailable(identity.FirstName)}}
		case len(history) == 0:
			c.userTimeline = []models.Message{{Role: models.RoleBot, Text: registeredWelcome(identity.FirstName)}}
		default:
			c.userTimeline = append([]models.Message(nil), history...)
		}
	})
	if fetchErr != nil {
		log.Printf("load history for user %d: %v", identity.ID, fetchErr)
	}
	return nil
}

// Register creates (or finds) the user at the gateway, persists the profile
// and switches to the registered tier. On gateway failure the identity stays
// unset and the error carries the backend's diagnostic.
func (c *Controller) Register(ctx context.Context, firstName string, lastName *string, dob, phone string) (*models.User, error) {
	user, err := c.gateway.CreateOrFindUser(ctx, firstName, lastName, dob, phone)
	if err != nil {
		return nil, err
	}
	if err := saveIdentity(ctx, c.store, user); err != nil {
		return nil, err
	}
	c.do(func() {
		// The guest thread is temporary; registration starts fresh. A turn
		// still pending on the guest tier is abandoned with it.
		c.abandonTurn()
		c.guestTimeline = nil
		c.input = ""
	})
	if err := c.Initialize(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Logout clears the identity and the registered timeline and re-enters guest
// mode with the free attempt already consumed. Burning the quota here is
// deliberate: leaving and re-entering as a guest is not a second free trial.
func (c *Controller) Logout(ctx context.Context) error {
	c.capture.Stop()
	c.playback.Stop()
	if err := clearIdentity(ctx, c.store); err != nil {
		return err
	}
	if err := c.gate.Consume(ctx); err != nil {
		return err
	}
	c.do(func() {
		c.abandonTurn()
		c.identity = nil
		c.userTimeline = nil
		c.guestTimeline = nil
		c.input = ""
		c.quotaUsed = true
	})
	return nil
}
