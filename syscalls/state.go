/*
 * rvemu - Guest-visible process state backing the syscall table.
 */

package syscalls

// fdEntry is one entry in the guest file-descriptor table. hostFD is
// the real descriptor this guest fd is backed by; path is the name it
// was opened under (or a placeholder such as "<stdout>").
type fdEntry struct {
	hostFD int
	path   string
}

// thread is one cooperative pthread: spec.md §4.2's "ring of thread
// records with TLS pointer, saved registers, blocked reason, and
// clear-tid address."
type thread struct {
	tid        int
	tls        uint64
	clearTID   uint64
	blocked    bool
	blockedFor string
}

// State is the per-Machine, guest-visible process state the syscall
// table reads and mutates: open files, the brk pointer, and the
// cooperative thread ring. It is distinct from cpu.CPU/memory.Memory
// so that syscalls needs no import of machine, avoiding the cycle
// machine -> cpu/syscalls -> machine.
type State struct {
	fds    map[int]*fdEntry
	nextFD int

	brk      uint64
	brkStart uint64
	mmapNext uint64

	threads   []*thread
	nextTID   int
	activeIdx int

	pid int

	// AllowNetwork gates socket/bind/listen/accept/connect; off by
	// default so a loaded guest cannot open host sockets unless the
	// embedder opts in, matching spec.md's "configurable" posture for
	// syscalls with host-visible side effects.
	AllowNetwork bool

	// Stopped is set by the reference "exit" handler installed via
	// RegisterDefaults; Machine.Simulate checks it through cpu.Stop().
	Stopped  bool
	ExitCode int
}

// NewState returns process state with stdin/stdout/stderr pre-opened
// and brk initialized to brkStart.
func NewState(brkStart uint64) *State {
	st := &State{
		fds:      make(map[int]*fdEntry),
		nextFD:   3,
		brk:      brkStart,
		brkStart: brkStart,
		mmapNext: brkStart + 0x10000000,
		pid:      1,
		nextTID:  1,
	}
	st.fds[0] = &fdEntry{hostFD: 0, path: "<stdin>"}
	st.fds[1] = &fdEntry{hostFD: 1, path: "<stdout>"}
	st.fds[2] = &fdEntry{hostFD: 2, path: "<stderr>"}
	main := &thread{tid: 1}
	st.threads = append(st.threads, main)
	return st
}

func (st *State) allocFD(hostFD int, path string) int {
	guest := st.nextFD
	st.nextFD++
	st.fds[guest] = &fdEntry{hostFD: hostFD, path: path}
	return guest
}

func (st *State) lookupFD(guest int) (*fdEntry, bool) {
	e, ok := st.fds[guest]
	return e, ok
}

func (st *State) closeFD(guest int) bool {
	_, ok := st.fds[guest]
	delete(st.fds, guest)
	return ok
}

// MmapCursor and BrkCursor expose the bump-allocator cursors for
// Machine.Serialize; SetMmapCursor/SetBrkCursor restore them on
// Deserialize.
func (st *State) MmapCursor() uint64     { return st.mmapNext }
func (st *State) SetMmapCursor(v uint64) { st.mmapNext = v }
func (st *State) BrkCursor() uint64      { return st.brk }
func (st *State) SetBrkCursor(v uint64)  { st.brk = v }

// Clone returns an independent copy of process state for Fork: a
// child inherits open files (sharing host fds, matching POSIX fork)
// but gets its own brk/thread-ring snapshot.
func (st *State) Clone() *State {
	child := &State{
		fds:          make(map[int]*fdEntry, len(st.fds)),
		nextFD:       st.nextFD,
		brk:          st.brk,
		brkStart:     st.brkStart,
		mmapNext:     st.mmapNext,
		activeIdx:    st.activeIdx,
		pid:          st.pid,
		nextTID:      st.nextTID,
		AllowNetwork: st.AllowNetwork,
	}
	for k, v := range st.fds {
		cp := *v
		child.fds[k] = &cp
	}
	for _, t := range st.threads {
		cp := *t
		child.threads = append(child.threads, &cp)
	}
	return child
}
