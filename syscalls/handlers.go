/*
 * rvemu - Reference syscall handler set.
 */

package syscalls

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/rvemu/rvemu/cpu"
	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/memory"
)

// RegisterDefaults installs the reference handler set spec.md §4.2
// requires at minimum: exit/exit_group, write/writev, read/readv,
// openat/close, brk, mmap/munmap/mremap/mprotect/madvise, getpid/gettid,
// sched_yield, clone/futex (cooperative), the socket family,
// clock_gettime, and a minimal ioctl.
func RegisterDefaults(t *Table) {
	t.Register(SysExit, sysExit)
	t.Register(SysExitGroup, sysExit)
	t.Register(SysWrite, sysWrite)
	t.Register(SysWritev, sysWritev)
	t.Register(SysRead, sysRead)
	t.Register(SysReadv, sysReadv)
	t.Register(SysOpenat, sysOpenat)
	t.Register(SysClose, sysClose)
	t.Register(SysBrk, sysBrk)
	t.Register(SysMmap, sysMmap)
	t.Register(SysMunmap, sysMunmap)
	t.Register(SysMremap, sysMremap)
	t.Register(SysMprotect, sysMprotect)
	t.Register(SysMadvise, sysMadvise)
	t.Register(SysGetpid, sysGetpid)
	t.Register(SysGettid, sysGettid)
	t.Register(SysSchedYield, sysSchedYield)
	t.Register(SysClone, sysClone)
	t.Register(SysFutex, sysFutex)
	t.Register(SysSocket, sysSocket)
	t.Register(SysBind, sysBind)
	t.Register(SysListen, sysListen)
	t.Register(SysAccept, sysAccept)
	t.Register(SysConnect, sysConnect)
	t.Register(SysGetsockopt, sysGetsockopt)
	t.Register(SysSetsockopt, sysSetsockopt)
	t.Register(SysClockGettime, sysClockGettime)
	t.Register(SysIoctl, sysIoctl)
}

// ---- process lifecycle -----------------------------------------------

func sysExit(c *cpu.CPU, st *State) *faults.Fault {
	a := args(c)
	st.Stopped = true
	st.ExitCode = int(int32(a[0]))
	c.Stop()
	return nil
}

func sysGetpid(c *cpu.CPU, st *State) *faults.Fault {
	setResult(c, uint64(st.pid))
	return nil
}

func sysGettid(c *cpu.CPU, st *State) *faults.Fault {
	if len(st.threads) == 0 {
		setResult(c, 1)
		return nil
	}
	setResult(c, uint64(st.threads[st.activeIdx].tid))
	return nil
}

func sysSchedYield(c *cpu.CPU, st *State) *faults.Fault {
	if len(st.threads) > 1 {
		st.activeIdx = (st.activeIdx + 1) % len(st.threads)
	}
	setResult(c, 0)
	return nil
}

// sysClone is cooperative only: it appends a new thread record and
// returns its tid to the parent, matching spec.md's "Cooperative
// pthreads are a ring of thread records ... clone appends." It does
// not fork host control flow.
func sysClone(c *cpu.CPU, st *State) *faults.Fault {
	a := args(c)
	tls := a[3]
	clearTID := a[4]
	st.nextTID++
	t := &thread{tid: st.nextTID, tls: tls, clearTID: clearTID}
	st.threads = append(st.threads, t)
	setResult(c, uint64(t.tid))
	return nil
}

// sysFutex treats every futex operation (FUTEX_WAIT, FUTEX_WAKE and the
// rest) as a cooperative no-op returning 0: a single host thread drives
// one Machine, so there is no other party to actually block on.
func sysFutex(c *cpu.CPU, st *State) *faults.Fault {
	setResult(c, 0)
	return nil
}

// ---- file I/O -----------------------------------------------------------

func sysWrite(c *cpu.CPU, st *State) *faults.Fault {
	a := args(c)
	fd, addr, length := int(int32(a[0])), a[1], int(a[2])
	entry, ok := st.lookupFD(fd)
	if !ok {
		setErrno(c, int(unix.EBADF))
		return nil
	}
	buf, ferr := c.Mem().RVBuffer(addr, length, length)
	if ferr != nil {
		return ferr
	}
	n, err := unix.Write(entry.hostFD, buf.Bytes())
	if err != nil {
		setErrno(c, errnoOf(err))
		return nil
	}
	setResult(c, uint64(n))
	return nil
}

func sysWritev(c *cpu.CPU, st *State) *faults.Fault {
	a := args(c)
	fd, iovAddr, iovCnt := int(int32(a[0])), a[1], int(a[2])
	entry, ok := st.lookupFD(fd)
	if !ok {
		setErrno(c, int(unix.EBADF))
		return nil
	}
	total := 0
	for i := 0; i < iovCnt; i++ {
		base := iovAddr + uint64(i*16)
		addr, ferr := memory.Read[uint64](c.Mem(), base)
		if ferr != nil {
			return ferr
		}
		length, ferr := memory.Read[uint64](c.Mem(), base+8)
		if ferr != nil {
			return ferr
		}
		buf, ferr := c.Mem().RVBuffer(addr, int(length), int(length))
		if ferr != nil {
			return ferr
		}
		n, err := unix.Write(entry.hostFD, buf.Bytes())
		if err != nil {
			setErrno(c, errnoOf(err))
			return nil
		}
		total += n
	}
	setResult(c, uint64(total))
	return nil
}

func sysRead(c *cpu.CPU, st *State) *faults.Fault {
	a := args(c)
	fd, addr, length := int(int32(a[0])), a[1], int(a[2])
	entry, ok := st.lookupFD(fd)
	if !ok {
		setErrno(c, int(unix.EBADF))
		return nil
	}
	buf := make([]byte, length)
	n, err := unix.Read(entry.hostFD, buf)
	if err != nil {
		setErrno(c, errnoOf(err))
		return nil
	}
	for i := 0; i < n; i++ {
		if ferr := c.Mem().WriteByte(addr+uint64(i), buf[i]); ferr != nil {
			return ferr
		}
	}
	setResult(c, uint64(n))
	return nil
}

func sysReadv(c *cpu.CPU, st *State) *faults.Fault {
	a := args(c)
	fd, iovAddr, iovCnt := int(int32(a[0])), a[1], int(a[2])
	entry, ok := st.lookupFD(fd)
	if !ok {
		setErrno(c, int(unix.EBADF))
		return nil
	}
	total := 0
	for i := 0; i < iovCnt; i++ {
		base := iovAddr + uint64(i*16)
		addr, ferr := memory.Read[uint64](c.Mem(), base)
		if ferr != nil {
			return ferr
		}
		length, ferr := memory.Read[uint64](c.Mem(), base+8)
		if ferr != nil {
			return ferr
		}
		buf := make([]byte, length)
		n, err := unix.Read(entry.hostFD, buf)
		if err != nil {
			setErrno(c, errnoOf(err))
			return nil
		}
		for j := 0; j < n; j++ {
			if ferr := c.Mem().WriteByte(addr+uint64(j), buf[j]); ferr != nil {
				return ferr
			}
		}
		total += n
	}
	setResult(c, uint64(total))
	return nil
}

func sysOpenat(c *cpu.CPU, st *State) *faults.Fault {
	a := args(c)
	dirfd, pathAddr, flags, mode := int32(a[0]), a[1], int(a[2]), uint32(a[3])
	path, ferr := c.Mem().Memstring(pathAddr, 4096)
	if ferr != nil {
		return ferr
	}
	hostDirfd := int(dirfd)
	if dirfd == -100 {
		hostDirfd = unix.AT_FDCWD
	}
	hostFD, err := unix.Openat(hostDirfd, path, flags, mode)
	if err != nil {
		setErrno(c, errnoOf(err))
		return nil
	}
	guest := st.allocFD(hostFD, path)
	setResult(c, uint64(guest))
	return nil
}

func sysClose(c *cpu.CPU, st *State) *faults.Fault {
	a := args(c)
	fd := int(int32(a[0]))
	entry, ok := st.lookupFD(fd)
	if !ok {
		setErrno(c, int(unix.EBADF))
		return nil
	}
	if fd > 2 {
		_ = unix.Close(entry.hostFD)
	}
	st.closeFD(fd)
	setResult(c, 0)
	return nil
}

func sysIoctl(c *cpu.CPU, st *State) *faults.Fault {
	// Minimal: every request, including the isatty/termios probes a libc
	// startup path makes, fails with ENOTTY rather than reimplementing
	// termios.
	setErrno(c, int(unix.ENOTTY))
	return nil
}

// ---- memory management ---------------------------------------------------

func sysBrk(c *cpu.CPU, st *State) *faults.Fault {
	a := args(c)
	requested := a[0]
	if requested == 0 || requested < st.brkStart {
		setResult(c, st.brk)
		return nil
	}
	if requested > st.brk {
		c.Mem().SetPageAttr(st.brk, int(requested-st.brk), memory.Attr{Read: true, Write: true, Cacheable: true})
	} else {
		c.Mem().FreePages(requested, int(st.brk-requested))
	}
	st.brk = requested
	setResult(c, st.brk)
	return nil
}

const (
	mapAnonymous = 0x20
	protRead     = 0x1
	protWrite    = 0x2
	protExec     = 0x4
)

func sysMmap(c *cpu.CPU, st *State) *faults.Fault {
	a := args(c)
	length, prot := a[1], uint32(a[2])
	aligned := (length + memory.PageSize - 1) &^ (memory.PageSize - 1)
	if aligned == 0 {
		aligned = memory.PageSize
	}
	addr := st.mmapNext
	st.mmapNext += aligned
	attr := memory.Attr{
		Read:      prot&protRead != 0,
		Write:     prot&protWrite != 0,
		Exec:      prot&protExec != 0,
		Cacheable: true,
	}
	c.Mem().SetPageAttr(addr, int(aligned), attr)
	setResult(c, addr)
	return nil
}

func sysMunmap(c *cpu.CPU, st *State) *faults.Fault {
	a := args(c)
	c.Mem().FreePages(a[0], int(a[1]))
	setResult(c, 0)
	return nil
}

func sysMremap(c *cpu.CPU, st *State) *faults.Fault {
	a := args(c)
	oldAddr, oldLen, newLen := a[0], a[1], a[2]
	newAddr := st.mmapNext
	st.mmapNext += (newLen + memory.PageSize - 1) &^ (memory.PageSize - 1)
	if ferr := c.Mem().MemcpyFrom(c.Mem(), newAddr, oldAddr, int(minU64(oldLen, newLen))); ferr != nil {
		return ferr
	}
	c.Mem().FreePages(oldAddr, int(oldLen))
	setResult(c, newAddr)
	return nil
}

func sysMprotect(c *cpu.CPU, st *State) *faults.Fault {
	a := args(c)
	addr, length, prot := a[0], a[1], uint32(a[2])
	attr := memory.Attr{
		Read:      prot&protRead != 0,
		Write:     prot&protWrite != 0,
		Exec:      prot&protExec != 0,
		Cacheable: true,
	}
	c.Mem().SetPageAttr(addr, int(length), attr)
	c.Mem().InvalidateResetCache()
	setResult(c, 0)
	return nil
}

func sysMadvise(c *cpu.CPU, st *State) *faults.Fault {
	setResult(c, 0)
	return nil
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// ---- sockets ---------------------------------------------------------

func sysSocket(c *cpu.CPU, st *State) *faults.Fault {
	if !st.AllowNetwork {
		setErrno(c, int(unix.EACCES))
		return nil
	}
	a := args(c)
	fd, err := unix.Socket(int(int32(a[0])), int(int32(a[1])), int(int32(a[2])))
	if err != nil {
		setErrno(c, errnoOf(err))
		return nil
	}
	guest := st.allocFD(fd, "<socket>")
	setResult(c, uint64(guest))
	return nil
}

func sysBind(c *cpu.CPU, st *State) *faults.Fault {
	if !st.AllowNetwork {
		setErrno(c, int(unix.EACCES))
		return nil
	}
	setErrno(c, int(unix.EOPNOTSUPP))
	return nil
}

func sysListen(c *cpu.CPU, st *State) *faults.Fault {
	if !st.AllowNetwork {
		setErrno(c, int(unix.EACCES))
		return nil
	}
	a := args(c)
	fd, ok := st.lookupFD(int(int32(a[0])))
	if !ok {
		setErrno(c, int(unix.EBADF))
		return nil
	}
	if err := unix.Listen(fd.hostFD, int(int32(a[1]))); err != nil {
		setErrno(c, errnoOf(err))
		return nil
	}
	setResult(c, 0)
	return nil
}

func sysAccept(c *cpu.CPU, st *State) *faults.Fault {
	if !st.AllowNetwork {
		setErrno(c, int(unix.EACCES))
		return nil
	}
	a := args(c)
	fd, ok := st.lookupFD(int(int32(a[0])))
	if !ok {
		setErrno(c, int(unix.EBADF))
		return nil
	}
	nfd, _, err := unix.Accept(fd.hostFD)
	if err != nil {
		setErrno(c, errnoOf(err))
		return nil
	}
	guest := st.allocFD(nfd, "<accepted>")
	setResult(c, uint64(guest))
	return nil
}

func sysConnect(c *cpu.CPU, st *State) *faults.Fault {
	if !st.AllowNetwork {
		setErrno(c, int(unix.EACCES))
		return nil
	}
	setErrno(c, int(unix.EOPNOTSUPP))
	return nil
}

func sysGetsockopt(c *cpu.CPU, st *State) *faults.Fault {
	setResult(c, 0)
	return nil
}

func sysSetsockopt(c *cpu.CPU, st *State) *faults.Fault {
	setResult(c, 0)
	return nil
}

// ---- time -----------------------------------------------------------

func sysClockGettime(c *cpu.CPU, st *State) *faults.Fault {
	a := args(c)
	now := time.Now()
	if ferr := memory.Write[uint64](c.Mem(), a[1], uint64(now.Unix())); ferr != nil {
		return ferr
	}
	if ferr := memory.Write[uint64](c.Mem(), a[1]+8, uint64(now.Nanosecond())); ferr != nil {
		return ferr
	}
	setResult(c, 0)
	return nil
}

func errnoOf(err error) int {
	if errno, ok := err.(unix.Errno); ok {
		return int(errno)
	}
	return int(unix.EIO)
}
