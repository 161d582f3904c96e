package syscall

import "fmt"

// System call numbers.
const (
	SysExit        = 93
	SysYield       = 124
	SysSetPriority = 140
	SysGetTime     = 169
	SysGetPid      = 172
	SysSbrk        = 214
	SysMunmap      = 215
	SysFork        = 220
	SysExec        = 221
	SysMmap        = 222
	SysWaitPid     = 260
	SysSpawn       = 400
	SysTaskInfo    = 410
)

var names = map[uint64]string{
	SysExit:        "sys_exit",
	SysYield:       "sys_yield",
	SysSetPriority: "sys_set_priority",
	SysGetTime:     "sys_get_time",
	SysGetPid:      "sys_getpid",
	SysSbrk:        "sys_sbrk",
	SysMunmap:      "sys_munmap",
	SysFork:        "sys_fork",
	SysExec:        "sys_exec",
	SysMmap:        "sys_mmap",
	SysWaitPid:     "sys_waitpid",
	SysSpawn:       "sys_spawn",
	SysTaskInfo:    "sys_task_info",
}

// Name returns the name of a system call number.
func Name(id uint64) string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("sys_%d", id)
}

// Lookup returns the number of a system call by name, with or without the
// sys_ prefix.
func Lookup(name string) (uint64, bool) {
	for id, n := range names {
		if n == name || n == "sys_"+name {
			return id, true
		}
	}
	return 0, false
}
