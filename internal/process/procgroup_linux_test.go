//go:build linux

package process

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// running is false once pid is gone or only a zombie is left.
func running(pid int) bool {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	i := bytes.LastIndexByte(stat, ')')
	if i < 0 || i+2 >= len(stat) {
		return false
	}
	return stat[i+2] != 'Z'
}

func TestDestroyKillsOrphanedChildren(t *testing.T) {
	requireShell(t)

	p, err := Spawn("sh", []string{"-c", "sleep 30 & echo $!"}, quiet())
	require.NoError(t, err)

	line, err := bufio.NewReader(p.Stdout()).ReadString('\n')
	require.NoError(t, err)
	child, err := strconv.Atoi(strings.TrimSpace(line))
	require.NoError(t, err)

	assert.Equal(t, 0, waitCode(t, p))
	assert.True(t, p.survivors)
	require.True(t, running(child))

	p.Destroy()
	assert.Eventually(t, func() bool { return !running(child) }, 5*time.Second, 10*time.Millisecond)
}

func TestGroupAliveAfterLeaderExit(t *testing.T) {
	requireShell(t)

	p, err := Spawn("sh", []string{"-c", "exit 0"}, quiet())
	require.NoError(t, err)
	defer p.Destroy()

	assert.Equal(t, 0, waitCode(t, p))
	assert.False(t, groupAlive(p.Pid()))
	assert.False(t, groupAlive(0))
}
