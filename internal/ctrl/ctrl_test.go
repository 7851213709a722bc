package ctrl

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
)

// fakeBackend answers from fixed maps.
type fakeBackend struct {
	set     *generator.Set
	ready   map[resource.ID]bool
	urls    map[resource.ID]string
	token   uint64
	stamped uint64
}

func (f *fakeBackend) Set() *generator.Set { return f.set }
func (f *fakeBackend) Has(id resource.ID) bool {
	_, ok := f.ready[id]
	return ok
}
func (f *fakeBackend) IsReady(id resource.ID) bool { return f.ready[id] }
func (f *fakeBackend) URL(id resource.ID) (string, bool) {
	u, ok := f.urls[id]
	return u, ok
}
func (f *fakeBackend) UpdateResources() uint64        { return f.token }
func (f *fakeBackend) UpdatedSince(token uint64) bool { return f.stamped >= token }

func newFakeBackend() *fakeBackend {
	idA := resource.ID{ReferenceFrame: "webmerc", Group: "g", Id: "a"}
	return &fakeBackend{
		set:   generator.NewSet(),
		ready: map[resource.ID]bool{idA: true},
		urls: map[resource.ID]string{
			idA: "http://tiles.test/webmerc/g-a/",
		},
		token:   424242,
		stamped: 100,
	}
}

func TestDispatch(t *testing.T) {
	s := &Server{backend: newFakeBackend()}

	cases := []struct {
		line string
		want string
	}{
		{"has-resource webmerc g a", "true"},
		{"has-resource webmerc g zzz", "false"},
		{"is-resource-ready webmerc g a", "true"},
		{"resource-url webmerc g a", "http://tiles.test/webmerc/g-a/"},
		{"resource-url webmerc g zzz", "error: no such resource"},
		{"supports-reference-frame webmerc", "true"},
		{"supports-reference-frame mars2020", "false"},
		{"update-resources", "424242"},
		{"updated-since 50", "true"},
		{"updated-since 500", "false"},
		{"updated-since 50 webmerc g a", "true"},
		{"updated-since 50 webmerc g a true", "true"},
		{"updated-since 50 webmerc g zzz", "false"},
		{"bogus", "error: unknown command bogus"},
		{"has-resource webmerc", "error: expected: <referenceFrame> <group> <id>"},
		{"list-resources", "(no resources)"},
	}
	for _, tc := range cases {
		t.Run(tc.line, func(t *testing.T) {
			assert.Equal(t, tc.want, s.Dispatch(tc.line))
		})
	}
}

func TestServeOverSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "ctrl.sock")
	s, err := Listen(sock, newFakeBackend(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx)

	conn, err := net.DialTimeout("unix", sock, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintln(conn, "has-resource webmerc g a")
	fmt.Fprintln(conn, "update-resources")

	r := bufio.NewScanner(conn)
	require.True(t, r.Scan())
	assert.Equal(t, "true", r.Text())
	require.True(t, r.Scan())
	assert.Equal(t, "424242", r.Text())
}
