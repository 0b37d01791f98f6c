package chat

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// ReplaceTalks swaps the cached talk list of a profile for talks.
// The last writer wins.
func (r *Repo) ReplaceTalks(ctx context.Context, profile string, talks []Talk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("profile = ?", profile).Delete(&Talk{}).Error; err != nil {
			return err
		}
		if len(talks) == 0 {
			return nil
		}
		rows := make([]Talk, len(talks))
		for i, t := range talks {
			t.Profile = profile
			rows[i] = t
		}
		return tx.CreateInBatches(rows, 100).Error
	})
}

func (r *Repo) UpsertTalk(ctx context.Context, t *Talk) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(t).Error
}

func (r *Repo) DeleteTalk(ctx context.Context, profile, id string) error {
	return r.db.WithContext(ctx).
		Where("profile = ? AND id = ?", profile, id).
		Delete(&Talk{}).Error
}

// ListTalks returns the cached talks of a profile, newest first.
func (r *Repo) ListTalks(ctx context.Context, profile string) ([]Talk, error) {
	var talks []Talk
	if err := r.db.WithContext(ctx).
		Where("profile = ?", profile).
		Order("updated_at DESC").
		Find(&talks).Error; err != nil {
		return nil, err
	}
	return talks, nil
}

// InsertEventOnce stores ev unless an event with the same id exists.
// It reports whether a row was written.
func (r *Repo) InsertEventOnce(ctx context.Context, ev *Event) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) GetEvent(ctx context.Context, id string) (*Event, error) {
	var ev Event
	if err := r.db.WithContext(ctx).First(&ev, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}
