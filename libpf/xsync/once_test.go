// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync_test

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"go.opentelemetry.io/rejit/libpf/xsync"
)

func TestOnceLock(t *testing.T) {
	attempt := 0 // intentionally not atomic
	once := xsync.Once[string]{}
	someError := errors.New("oh no")
	numOk := atomic.Uint32{}
	wg := sync.WaitGroup{}

	assert.Nil(t, once.Get())

	for range 32 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			val, err := once.GetOrInit(func() (string, error) {
				if attempt == 3 {
					time.Sleep(25 * time.Millisecond)
					return strconv.Itoa(attempt), nil
				}

				attempt++
				return "", someError
			})

			switch {
			case errors.Is(err, someError):
				assert.Nil(t, val)
			case err == nil:
				numOk.Add(1)
				assert.Equal(t, "3", *val)
			default:
				assert.Fail(t, "unreachable")
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, "3", *once.Get())
	assert.Equal(t, uint32(32-3), numOk.Load())
}

func TestOnceLock_FailureLeavesDataUntouched(t *testing.T) {
	once := xsync.Once[[]byte]{}
	_, err := once.GetOrInit(func() ([]byte, error) {
		return []byte{0xde, 0xad}, errors.New("partial")
	})
	assert.Error(t, err)
	assert.Nil(t, once.Get())

	val, err := once.GetOrInit(func() ([]byte, error) {
		return []byte{0x2a}, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []byte{0x2a}, *val)
}

func TestOnceLock_SharedFailure(t *testing.T) {
	const waiters = 8
	once := xsync.Once[int]{}
	someError := errors.New("oh no")
	calls := atomic.Int32{}
	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = once.GetOrInitShared(func() (int, error) {
			calls.Add(1)
			close(entered)
			<-release
			return 0, someError
		})
	}()
	<-entered

	wg := sync.WaitGroup{}
	for range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := once.GetOrInitShared(func() (int, error) {
				calls.Add(1)
				return 42, nil
			})
			assert.ErrorIs(t, err, someError)
		}()
	}
	// Give the waiters time to block on the running init.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Nil(t, once.Get())

	// A caller arriving after the failure retries.
	val, err := once.GetOrInitShared(func() (int, error) {
		calls.Add(1)
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, *val)
	assert.Equal(t, int32(2), calls.Load())
}
