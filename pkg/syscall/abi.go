package syscall

import (
	"encoding/binary"
	"fmt"

	"kernos/pkg/process"
)

// Sizes of the structures the kernel writes to user memory.
const (
	TimeValSize  = 16
	TaskInfoSize = 4 + 4*process.MaxSyscallNum + 4 + 8

	taskInfoTimeOffset = TaskInfoSize - 8
)

// MaxPathLen bounds the program names read from user memory.
const MaxPathLen = 256

// TimeVal is the user layout of get_time.
type TimeVal struct {
	Sec  uint64
	Usec uint64
}

// Micros returns the value as a single microsecond counter.
func (tv TimeVal) Micros() uint64 { return tv.Sec*1_000_000 + tv.Usec }

// MarshalBinary encodes tv in the user layout.
func (tv TimeVal) MarshalBinary() ([]byte, error) {
	buf := make([]byte, TimeValSize)
	binary.LittleEndian.PutUint64(buf[0:], tv.Sec)
	binary.LittleEndian.PutUint64(buf[8:], tv.Usec)
	return buf, nil
}

// UnmarshalBinary decodes the user layout.
func (tv *TimeVal) UnmarshalBinary(data []byte) error {
	if len(data) < TimeValSize {
		return fmt.Errorf("timeval: short buffer: %d bytes", len(data))
	}
	tv.Sec = binary.LittleEndian.Uint64(data[0:])
	tv.Usec = binary.LittleEndian.Uint64(data[8:])
	return nil
}

// TaskInfo is the user layout of task_info.
type TaskInfo struct {
	Status       process.TaskStatus
	SyscallTimes [process.MaxSyscallNum]uint32
	// Time is the milliseconds since the task was first dispatched.
	Time uint64
}

// MarshalBinary encodes ti in the user layout: status at 0, the counters at
// 4, then 4 bytes of padding and the time, 8-byte aligned.
func (ti TaskInfo) MarshalBinary() ([]byte, error) {
	buf := make([]byte, TaskInfoSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(ti.Status))
	for i, n := range ti.SyscallTimes {
		binary.LittleEndian.PutUint32(buf[4+4*i:], n)
	}
	binary.LittleEndian.PutUint64(buf[taskInfoTimeOffset:], ti.Time)
	return buf, nil
}

// UnmarshalBinary decodes the user layout.
func (ti *TaskInfo) UnmarshalBinary(data []byte) error {
	if len(data) < TaskInfoSize {
		return fmt.Errorf("taskinfo: short buffer: %d bytes", len(data))
	}
	ti.Status = process.TaskStatus(binary.LittleEndian.Uint32(data[0:]))
	for i := range ti.SyscallTimes {
		ti.SyscallTimes[i] = binary.LittleEndian.Uint32(data[4+4*i:])
	}
	ti.Time = binary.LittleEndian.Uint64(data[taskInfoTimeOffset:])
	return nil
}

func taskInfoOf(info process.Info) TaskInfo {
	return TaskInfo{
		Status:       info.Status,
		SyscallTimes: info.SyscallTimes,
		Time:         info.TimeMs,
	}
}
