package startup

import (
	"context"
	"testing"

	"github.com/classfeed/internal/config"
	"github.com/classfeed/internal/storage/memory"
)

func TestOpenPrefStore(t *testing.T) {
	st, err := OpenPrefStore(context.Background(), config.PrefsConfig{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(*memory.Client); !ok {
		t.Errorf("expected memory store by default, got %T", st)
	}
	if _, err := OpenPrefStore(context.Background(), config.PrefsConfig{Store: "redis"}, 0); err == nil {
		t.Error("redis without url must fail")
	}
	if _, err := OpenPrefStore(context.Background(), config.PrefsConfig{Store: "sqlite"}, 0); err == nil {
		t.Error("unknown store must fail")
	}
}
