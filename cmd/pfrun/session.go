package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/packedfunc/engine"
	"github.com/wippyai/packedfunc/errors"
	"github.com/wippyai/packedfunc/packed"
	"github.com/wippyai/packedfunc/value"
)

// session is a runtime plus the modules loaded into it.
type session struct {
	local   *engine.Local
	rt      *packed.Runtime
	log     *zap.Logger
	modules []*packed.Module
}

// funcEntry names a callable function: a global one, or one exported by a
// loaded module.
type funcEntry struct {
	name   string
	module string
}

func (e funcEntry) label() string {
	if e.module == "" {
		return e.name
	}
	return e.module + "." + e.name
}

func openSession(cfg *engine.Config, log *zap.Logger, modules []string) (*session, error) {
	local, err := engine.NewLocal(cfg)
	if err != nil {
		return nil, err
	}
	s := &session{local: local, rt: packed.New(local), log: log}

	for _, path := range modules {
		m, err := s.rt.LoadModule(path)
		if err != nil {
			s.close()
			return nil, err
		}
		log.Debug("module loaded", zap.String("path", path), zap.String("module", m.Name()))
		s.modules = append(s.modules, m)
	}
	return s, nil
}

func (s *session) close() {
	for _, m := range s.modules {
		if err := m.Release(); err != nil {
			s.log.Warn("module release failed", zap.String("module", m.Name()), zap.Error(err))
		}
	}
	s.modules = nil
	s.rt.Close()
	if err := s.local.Close(context.Background()); err != nil {
		s.log.Warn("runtime close failed", zap.Error(err))
	}
}

// functions lists the global functions followed by each module's exports.
func (s *session) functions() []funcEntry {
	var entries []funcEntry
	for _, name := range s.rt.ListGlobalNames() {
		entries = append(entries, funcEntry{name: name})
	}
	for _, m := range s.modules {
		names, _ := s.local.ModFuncNames(m.Handle())
		for _, name := range names {
			entries = append(entries, funcEntry{name: name, module: m.Name()})
		}
	}
	return entries
}

// resolve finds a function by name. An empty name selects the entry
// function of the first module; "module.func" selects a module export;
// any other name is tried in the registry and then in every module.
// The caller releases the result.
func (s *session) resolve(name string) (*packed.Function, error) {
	if name == "" {
		if len(s.modules) == 0 {
			return nil, errors.FunctionNotFound(errors.PhaseInvoke, "")
		}
		return s.modules[0].Entry()
	}

	fn, err := s.rt.GetFunction(name)
	if err == nil {
		return fn, nil
	}
	if !stderrors.Is(err, errors.ErrFunctionNotFound) {
		return nil, err
	}

	for _, m := range s.modules {
		fname := name
		if rest, ok := strings.CutPrefix(name, m.Name()+"."); ok && rest != "" {
			fname = rest
		}
		f, merr := m.GetFunction(fname, true)
		if merr == nil {
			return f, nil
		}
		if !stderrors.Is(merr, errors.ErrFunctionNotFound) {
			return nil, merr
		}
	}
	return nil, err
}

// call resolves name, invokes it with args and formats the result.
func (s *session) call(name string, args []value.ArgValue) (string, error) {
	fn, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	defer fn.Release()

	ret, err := packed.NewBuilder(fn).PushArgs(args...).Invoke()
	if err != nil {
		return "", fmt.Errorf("call %s: %w", fn.Name(), err)
	}
	defer ret.Release()
	return ret.String(), nil
}
