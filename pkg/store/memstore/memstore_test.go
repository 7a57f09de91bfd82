package memstore_test

import (
	"testing"

	"github.com/MrWong99/livecall/pkg/store"
	"github.com/MrWong99/livecall/pkg/store/memstore"
	"github.com/MrWong99/livecall/pkg/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return memstore.New()
	})
}
