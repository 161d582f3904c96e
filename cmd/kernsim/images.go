package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"kernos/pkg/loader"
	"kernos/pkg/mm"
)

// ecall is the RISC-V environment call instruction.
const ecall = 0x00000073

func text(words ...uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

// demoImages returns the built-in programs. Their code is a handful of
// ecalls; kernsim plays the part of the running program and issues the
// system calls itself.
func demoImages() *loader.Registry {
	return loader.NewRegistry(
		&loader.Image{
			Name:  "init",
			Entry: 0x10000,
			Segments: []loader.Segment{
				{Vaddr: 0x10000, Data: text(ecall, ecall), MemSize: mm.PageSize, Perm: mm.PermR | mm.PermX},
			},
		},
		&loader.Image{
			Name:  "hello",
			Entry: 0x10000,
			Segments: []loader.Segment{
				{Vaddr: 0x10000, Data: text(ecall), MemSize: mm.PageSize, Perm: mm.PermR | mm.PermX},
				{Vaddr: 0x11000, Data: []byte("Hello, world!\n\x00"), MemSize: mm.PageSize, Perm: mm.PermR},
			},
		},
		&loader.Image{
			Name:  "worker",
			Entry: 0x10000,
			Segments: []loader.Segment{
				{Vaddr: 0x10000, Data: text(ecall, ecall, ecall), MemSize: mm.PageSize, Perm: mm.PermR | mm.PermX},
				{Vaddr: 0x11000, MemSize: 4 * mm.PageSize, Perm: mm.PermR | mm.PermW},
			},
		},
	)
}

// imageFlags collects -image name=path arguments.
type imageFlags []string

func (f *imageFlags) String() string { return strings.Join(*f, ",") }

func (f *imageFlags) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("want name=path, got %q", v)
	}
	*f = append(*f, v)
	return nil
}

// register loads every ELF file named by the flags into r.
func (f imageFlags) register(r *loader.Registry) error {
	for _, v := range f {
		name, path, _ := strings.Cut(v, "=")
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := r.RegisterELF(name, data); err != nil {
			return fmt.Errorf("image %s: %w", name, err)
		}
	}
	return nil
}
