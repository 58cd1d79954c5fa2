// Frontline Perception System
// Copyright (C) 2020-2025 TurbineOne LLC
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package interrupt

import (
	"context"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWaitSignal(t *testing.T) {
	sigC := make(chan os.Signal, 1)
	sigC <- syscall.SIGTERM

	err := wait(context.Background(), sigC)

	var sigErr *SignalError
	require.ErrorAs(t, err, &sigErr)
	require.Equal(t, syscall.SIGTERM, sigErr.Signal)
	require.Contains(t, err.Error(), "terminated")
}

func TestRunContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, Run(ctx), context.Canceled)
}
