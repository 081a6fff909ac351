package session

import (
	"context"
	"strconv"
	"time"

	"github.com/classfeed/internal/storage"
)

const dayLayout = "2006-01-02"

// nextStreak: вчера была сессия: серия +1; сегодня уже была: без изменений; иначе заново с 1.
func nextStreak(lastDay string, prev int, now time.Time) int {
	today := now.Format(dayLayout)
	last, err := time.ParseInLocation(dayLayout, lastDay, now.Location())
	switch {
	case err != nil:
		return 1
	case lastDay == today:
		if prev < 1 {
			return 1
		}
		return prev
	case last.AddDate(0, 0, 1).Format(dayLayout) == today:
		return prev + 1
	default:
		return 1
	}
}

// recordVisit обновляет lastSession_{username} и streak_{username}, возвращает новую серию.
func recordVisit(ctx context.Context, prefs storage.PrefStore, username string, now time.Time) (int, error) {
	last, _, err := prefs.Get(ctx, storage.LastSessionKey(username))
	if err != nil {
		return 0, err
	}
	raw, _, err := prefs.Get(ctx, storage.StreakKey(username))
	if err != nil {
		return 0, err
	}
	prev, _ := strconv.Atoi(raw)
	streak := nextStreak(last, prev, now)
	if err := prefs.Set(ctx, storage.LastSessionKey(username), now.Format(dayLayout)); err != nil {
		return 0, err
	}
	if err := prefs.Set(ctx, storage.StreakKey(username), strconv.Itoa(streak)); err != nil {
		return 0, err
	}
	return streak, nil
}
