/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package clockdomain

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avbsh/streamhandler/avberr"
)

type recordingClient struct {
	mu          sync.Mutex
	ratios      []float64
	lockStates  []LockState
}

func (c *recordingClient) NotifyUpdateRatio(r float64, _ *Domain) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ratios = append(c.ratios, r)
}

func (c *recordingClient) NotifyUpdateLockState(s LockState, _ *Domain) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lockStates = append(c.lockStates, s)
}

// S2: filter lock with T1=T2=100000ppm, tc=0, two updates of 1.0 lock.
func TestFilterLockScenarioS2(t *testing.T) {
	d := NewDomain(Config{
		ID:            1,
		Type:          TypeSW,
		EventRate:     48000,
		Threshold1PPM: 100000,
		Threshold2PPM: 100000,
	})
	require.NoError(t, d.UpdateRateRatio(1.0))
	require.NoError(t, d.UpdateRateRatio(1.0))
	require.Equal(t, LockLocked, d.GetLockState())
}

// P2: a stream of identical in-band ratios reaches locked within three updates.
func TestLockStateMachineP2(t *testing.T) {
	d := NewDomain(Config{
		ID:            2,
		Type:          TypeSW,
		EventRate:     48000,
		Threshold1PPM: 100,
		Threshold2PPM: 100,
	})
	require.Equal(t, LockInit, d.GetLockState())
	for i := 0; i < 3; i++ {
		require.NoError(t, d.UpdateRateRatio(1.0))
	}
	require.Equal(t, LockLocked, d.GetLockState())

	client := &recordingClient{}
	require.NoError(t, d.RegisterClient(client))

	// A ratio far outside the fast band must unlock and notify.
	require.NoError(t, d.UpdateRateRatio(9.9))
	require.Equal(t, LockUnlocked, d.GetLockState())
	require.NotEmpty(t, client.lockStates)
	require.Equal(t, LockUnlocked, client.lockStates[len(client.lockStates)-1])
}

// P1: rate ratio always stays within [slow*(1-T2), slow*(1+T2)]*compensation.
func TestRateRatioMonotonicityP1(t *testing.T) {
	d := NewDomain(Config{
		ID:              3,
		Type:            TypeSW,
		EventRate:       48000,
		TimeConstantSec: 1,
		CallRate:        48000,
		Threshold1PPM:   1000,
		Threshold2PPM:   1000,
	})
	ratios := []float64{1.0, 1.0001, 0.9999, 1.00005, 0.99995}
	for _, r := range ratios {
		require.NoError(t, d.UpdateRateRatio(r))
		visible := d.GetRateRatio()
		require.Greater(t, visible, 0.0)
		slow := d.rateRatioSlow
		comp := d.DriftCompensation()
		require.GreaterOrEqual(t, visible, slow*(2-d.threshold2)*comp)
		require.LessOrEqual(t, visible, slow*d.threshold2*comp)
	}
}

func TestUpdateRateRatioRejectsOutOfRange(t *testing.T) {
	d := NewDomain(Config{ID: 4, Type: TypeSW, EventRate: 48000})
	require.ErrorIs(t, d.UpdateRateRatio(0), avberr.ErrInvalidParam)
	require.ErrorIs(t, d.UpdateRateRatio(-1), avberr.ErrInvalidParam)
	require.ErrorIs(t, d.UpdateRateRatio(10.1), avberr.ErrInvalidParam)
	require.NoError(t, d.UpdateRateRatio(10.0))
}

// S3: drift compensation bounds.
func TestDriftCompensationBoundsS3(t *testing.T) {
	d := NewDomain(Config{ID: 5, Type: TypeSW, EventRate: 48000})
	require.NoError(t, d.SetDriftCompensation(0))
	require.Error(t, d.SetDriftCompensation(1_000_001))
	require.NoError(t, d.SetDriftCompensation(-1_000_000))
	require.Equal(t, 2.0, d.DriftCompensation())
}

func TestRegisterClientAtMostOne(t *testing.T) {
	d := NewDomain(Config{ID: 6, Type: TypeSW, EventRate: 48000})
	c1 := &recordingClient{}
	c2 := &recordingClient{}
	require.NoError(t, d.RegisterClient(c1))
	require.ErrorIs(t, d.RegisterClient(c2), avberr.ErrAlreadyInUse)
	require.ErrorIs(t, d.UnregisterClient(c2), avberr.ErrInvalidParam)
	require.NoError(t, d.UnregisterClient(c1))
}

func TestEventCountNeverDecreases(t *testing.T) {
	d := NewDomain(Config{ID: 7, Type: TypeSW, EventRate: 48000})
	d.setEventCount(100, 1000)
	count, ts := d.GetEventCount()
	require.Equal(t, uint64(100), count)
	require.Equal(t, uint64(1000), ts)

	d.setEventCount(50, 2000) // non-monotonic, must be rejected
	count, ts = d.GetEventCount()
	require.Equal(t, uint64(100), count)
	require.Equal(t, uint64(1000), ts)
}
