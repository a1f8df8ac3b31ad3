package corevk

import (
	"fmt"
	"runtime"

	vk "github.com/vulkan-go/vulkan"
)

// isError reports whether ret is a Vulkan failure code.
func isError(ret vk.Result) bool {
	return ret != vk.Success
}

// newError wraps a failing vk.Result with the call site, in the
// teacher's style (errors.go: newError/newStackFrame).
func newError(ret vk.Result) error {
	if ret == vk.Success {
		return nil
	}
	pc, file, line, ok := runtime.Caller(1)
	if !ok {
		return fmt.Errorf("vulkan error: result %d", ret)
	}
	fn := runtime.FuncForPC(pc)
	name := "?"
	if fn != nil {
		name = fn.Name()
	}
	return fmt.Errorf("vulkan error: result %d on %s (%s:%d)", ret, name, file, line)
}

// orPanic is reserved for construction-time call sites where there is
// no sane partially-built object to return (instance/device bring-up).
// Runtime paths (frame begin/end, uploads) must return errors instead;
// see SPEC_FULL.md ambient-stack error-handling section.
func orPanic(err error, finalizers ...func()) {
	if err != nil {
		for _, fn := range finalizers {
			fn()
		}
		panic(err)
	}
}

// checkErr recovers a panic into *err, for use in defer at API boundaries
// that must not let construction panics escape across the package ABI.
func checkErr(err *error) {
	if v := recover(); v != nil {
		switch e := v.(type) {
		case error:
			*err = e
		default:
			*err = fmt.Errorf("%v", v)
		}
	}
}
