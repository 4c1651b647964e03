// internal/scripting/lua_picker.go
package scripting

import (
	"fmt"
	"sync"

	"github.com/Shopify/go-lua"

	apperrors "github.com/Corphon/calligrapher/internal/errors"
	"github.com/Corphon/calligrapher/internal/ui"
	"github.com/Corphon/calligrapher/internal/utils"
)

// chooseFunc is the global every picker script must define:
//
//	function choose(choices, tags) return 1 end
//
// Both arguments are 1-based arrays of strings. Returning nil or 0 quits.
const chooseFunc = "choose"

// LuaPicker asks a Lua script which choice to take.
type LuaPicker struct {
	mu    sync.Mutex
	state *lua.State
	tags  []string

	logger *utils.Logger
}

// NewLuaPicker loads a picker script from a file.
func NewLuaPicker(path string) (*LuaPicker, error) {
	return newLuaPicker(path, func(state *lua.State) error {
		return lua.LoadFile(state, path, "")
	})
}

// NewLuaPickerFromString loads a picker script from source text.
func NewLuaPickerFromString(name, source string) (*LuaPicker, error) {
	return newLuaPicker(name, func(state *lua.State) error {
		return lua.LoadString(state, source)
	})
}

func newLuaPicker(name string, load func(*lua.State) error) (*LuaPicker, error) {
	p := &LuaPicker{
		state:  lua.NewState(),
		logger: utils.GetLogger(),
	}
	lua.OpenLibraries(p.state)
	p.state.Register("log", p.luaLog)

	if err := load(p.state); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("load picker script %s", name), err)
	}
	if err := p.state.ProtectedCall(0, 0, 0); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("run picker script %s", name), err)
	}

	p.state.Global(chooseFunc)
	defined := p.state.IsFunction(-1)
	p.state.Pop(1)
	if !defined {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("picker script %s does not define %s(choices, tags)", name, chooseFunc), nil)
	}
	return p, nil
}

// luaLog exposes log(message) to scripts.
func (p *LuaPicker) luaLog(state *lua.State) int {
	msg := lua.CheckString(state, 1)
	p.logger.Info("picker script", map[string]interface{}{"message": msg})
	return 0
}

// ObserveTags records the tags of the latest text unit for the next call.
func (p *LuaPicker) ObserveTags(tags []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tags = append([]string(nil), tags...)
}

func (p *LuaPicker) pushStrings(values []string) {
	p.state.NewTable()
	for i, v := range values {
		p.state.PushString(v)
		p.state.RawSetInt(-2, i+1)
	}
}

// Choose calls choose(choices, tags). Scripts never reach the save entry.
func (p *LuaPicker) Choose(choices []string, _ ui.MenuOptions) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(choices) == 0 {
		return ui.ChoiceQuit, nil
	}

	p.state.Global(chooseFunc)
	p.pushStrings(choices)
	p.pushStrings(p.tags)
	if err := p.state.ProtectedCall(2, 1, 0); err != nil {
		return ui.ChoiceQuit, apperrors.NewProcessingError("picker script failed", err)
	}
	defer p.state.Pop(1)

	if p.state.IsNil(-1) {
		return ui.ChoiceQuit, nil
	}
	n, ok := p.state.ToInteger(-1)
	if !ok {
		return ui.ChoiceQuit, apperrors.NewValidationError(
			fmt.Sprintf("%s must return a number, got %s", chooseFunc, lua.TypeNameOf(p.state, -1)), nil)
	}
	if n == 0 {
		return ui.ChoiceQuit, nil
	}
	if n < 1 || n > len(choices) {
		return ui.ChoiceQuit, apperrors.NewValidationError(
			fmt.Sprintf("%s returned %d, want 1..%d", chooseFunc, n, len(choices)), nil)
	}
	return n - 1, nil
}
