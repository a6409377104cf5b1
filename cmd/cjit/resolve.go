package main

/*
#include <dlfcn.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// resolveLibcSymbol satisfies jit.Resolver for programs that call into
// the C standard library (printf, malloc, memcpy, ...) - spec ss1 lists
// "the C standard library" as an external collaborator resolved by a
// caller-supplied lookup, and this CLI's lookup is simply the dynamic
// linker's own symbol table, reached through dlsym(RTLD_DEFAULT, name)
// rather than reimplementing one.
func resolveLibcSymbol(name string) (uintptr, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	sym := C.dlsym(C.RTLD_DEFAULT, cname)
	if sym == nil {
		return 0, fmt.Errorf("undefined external symbol %q", name)
	}
	return uintptr(sym), nil
}
