/*
Package process provides task management for the kernel.

It implements the task control block, a stride scheduler, the per-core
Processor and the lifecycle operations user programs reach through system
calls. Every operation acts on the task currently running on the processor.

  - Task lifecycle (fork, exec, spawn, exit, waitpid)
  - Stride scheduling with per-task priorities
  - Anonymous memory mappings and the program break
  - Per-task resource limits

# Task States

Tasks move through the following states:

  - Ready: Task is queued and waiting for the processor
  - Running: Task owns the processor
  - Blocked: Task waits for an event
  - Zombie: Task has exited and its parent has not collected its exit code

# Scheduling

Each task carries a stride. Whenever a task is dispatched its stride grows by
BigStride/priority, and the ready task with the smallest stride runs next.
Over a long run two tasks are dispatched in the ratio of their priorities.
A newly created task starts at the stride of the last dispatched task.

# Usage

Booting the init task and forking:

	cpu := process.NewProcessor(process.NewScheduler(0), timer.NewMonotonic())
	m := process.NewManager(process.DefaultConfig(), frames, images, cpu)

	if _, err := m.Boot("init"); err != nil {
		log.Fatal(err)
	}
	child, err := m.Fork()

Collecting an exited child:

	pid, err := m.WaitPid(process.WaitAny, exitCodePtr)
	if errors.Is(err, process.ErrChildRunning) {
		m.Yield()
	}

# Thread Safety

Task fields are guarded by the task's own mutex. The mutex is never held
across a call into the Processor, and a parent is always locked before its
children. Lifecycle operations on one Manager are expected to be serialized
by the caller.
*/
package process
