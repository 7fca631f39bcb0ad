package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"shortsai-batch/internal/model"
)

type panelFormKind int

const (
	panelFormAddJobs panelFormKind = iota
	panelFormDefaults
)

type panelFieldKind int

const (
	panelFieldString panelFieldKind = iota
	panelFieldInt
	panelFieldBool
	panelFieldSelect
)

type panelFormField struct {
	Key      string
	Label    string
	Help     string
	Kind     panelFieldKind
	Value    string
	Options  []string
	Required bool
}

type panelForm struct {
	Kind   panelFormKind
	Title  string
	Fields []panelFormField
	Index  int
	Input  textinput.Model
	Error  string
	Saving bool
}

func renderConfigFields(c model.RenderConfig) []panelFormField {
	volume := ""
	if c.BgMusicVolume != nil {
		volume = strconv.Itoa(*c.BgMusicVolume)
	}
	return []panelFormField{
		{Key: "fps", Label: "FPS", Help: "Frames per second", Kind: panelFieldSelect, Value: strconv.Itoa(c.FPS), Options: []string{"30", "60"}},
		{Key: "resolution", Label: "Resolution", Help: "Vertical output size", Kind: panelFieldSelect, Value: c.Resolution, Options: []string{model.Resolution1080p, model.Resolution720p}},
		{Key: "format", Label: "Format", Help: "Container of the rendered file", Kind: panelFieldSelect, Value: c.Format, Options: []string{model.FormatMP4, model.FormatWebM}},
		{Key: "subtitles", Label: "Subtitles", Help: "Burn narration subtitles into the video", Kind: panelFieldBool, Value: boolToYN(c.ShowSubtitles)},
		{Key: "music_file", Label: "Music File", Help: "Local audio file uploaded before each render", Kind: panelFieldString, Value: c.BgMusicFile},
		{Key: "music_url", Label: "Music URL", Help: "Hosted audio used when no file is set or the upload fails", Kind: panelFieldString, Value: c.BgMusicURL},
		{Key: "music_volume", Label: "Music Volume", Help: "0-100; empty uses 50", Kind: panelFieldInt, Value: volume},
		{Key: "ending_file", Label: "Ending Video File", Help: "Local clip appended to every render", Kind: panelFieldString, Value: c.EndingVideoFile},
		{Key: "ending_url", Label: "Ending Video URL", Help: "Hosted clip used when no file is set or the upload fails", Kind: panelFieldString, Value: c.EndingVideoURL},
	}
}

func newAddJobsForm(defaults model.RenderConfig, width int) *panelForm {
	fields := []panelFormField{
		{Key: "project_ids", Label: "Project IDs", Help: "One or more ids separated by commas or spaces", Kind: panelFieldString, Required: true},
	}
	f := &panelForm{
		Kind:   panelFormAddJobs,
		Title:  "Queue Render Jobs",
		Fields: append(fields, renderConfigFields(defaults)...),
	}
	return f.withInput(width)
}

func newDefaultsForm(defaults model.RenderConfig, width int) *panelForm {
	f := &panelForm{
		Kind:   panelFormDefaults,
		Title:  "Render Defaults",
		Fields: renderConfigFields(defaults),
	}
	return f.withInput(width)
}

func (f *panelForm) withInput(width int) *panelForm {
	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 2048
	input.Width = clampInt(width-8, 20, 120)
	f.Input = input
	f.loadFieldIntoInput()
	f.Input.Focus()
	return f
}

func (f *panelForm) resize(width int) {
	if f != nil {
		f.Input.Width = clampInt(width-8, 20, 120)
	}
}

func (f *panelForm) currentField() panelFormField {
	if len(f.Fields) == 0 {
		return panelFormField{}
	}
	f.Index = clampInt(f.Index, 0, len(f.Fields)-1)
	return f.Fields[f.Index]
}

func (f *panelForm) commitInput() {
	if f == nil || len(f.Fields) == 0 {
		return
	}
	f.Fields[f.Index].Value = strings.TrimSpace(f.Input.Value())
}

func (f *panelForm) loadFieldIntoInput() {
	if f == nil || len(f.Fields) == 0 {
		return
	}
	f.Input.SetValue(f.Fields[f.Index].Value)
	f.Input.CursorEnd()
}

func (f *panelForm) setBoolField(v bool) {
	if f == nil || len(f.Fields) == 0 || f.Fields[f.Index].Kind != panelFieldBool {
		return
	}
	f.Fields[f.Index].Value = boolToYN(v)
	f.loadFieldIntoInput()
}

func (f *panelForm) toggleBoolField() {
	if f == nil || len(f.Fields) == 0 {
		return
	}
	v, _ := parseBool(f.Fields[f.Index].Value)
	f.setBoolField(!v)
}

// stepSelectOption moves the current select field by delta, wrapping around.
func (f *panelForm) stepSelectOption(delta int) {
	if f == nil || len(f.Fields) == 0 {
		return
	}
	curr := f.Fields[f.Index]
	if curr.Kind != panelFieldSelect || len(curr.Options) == 0 {
		return
	}
	pos := 0
	for i, opt := range curr.Options {
		if strings.EqualFold(opt, strings.TrimSpace(curr.Value)) {
			pos = i
			break
		}
	}
	n := len(curr.Options)
	pos = ((pos+delta)%n + n) % n
	f.Fields[f.Index].Value = curr.Options[pos]
	f.loadFieldIntoInput()
}

func (f *panelForm) values() (map[string]string, error) {
	if f == nil {
		return nil, errors.New("internal form error")
	}
	vals := make(map[string]string, len(f.Fields))
	for _, field := range f.Fields {
		v := strings.TrimSpace(field.Value)
		if field.Required && v == "" {
			return nil, fmt.Errorf("%s is required", strings.ToLower(field.Label))
		}
		switch field.Kind {
		case panelFieldInt:
			if v == "" {
				break
			}
			if _, err := strconv.Atoi(v); err != nil {
				return nil, fmt.Errorf("%s must be an integer", strings.ToLower(field.Label))
			}
		case panelFieldBool:
			if _, ok := parseBool(v); !ok {
				return nil, fmt.Errorf("%s must be y or n", strings.ToLower(field.Label))
			}
		case panelFieldSelect:
			matched := false
			for _, opt := range field.Options {
				if strings.EqualFold(opt, v) {
					v = opt
					matched = true
					break
				}
			}
			if !matched {
				return nil, fmt.Errorf("%s has invalid value", strings.ToLower(field.Label))
			}
		}
		vals[field.Key] = v
	}
	return vals, nil
}

// toRenderConfig builds a validated render config from the form fields.
func (f *panelForm) toRenderConfig() (model.RenderConfig, error) {
	vals, err := f.values()
	if err != nil {
		return model.RenderConfig{}, err
	}
	fps, _ := strconv.Atoi(vals["fps"])
	subtitles, _ := parseBool(vals["subtitles"])
	c := model.RenderConfig{
		FPS:             fps,
		Resolution:      vals["resolution"],
		Format:          vals["format"],
		ShowSubtitles:   subtitles,
		BgMusicFile:     vals["music_file"],
		BgMusicURL:      vals["music_url"],
		EndingVideoFile: vals["ending_file"],
		EndingVideoURL:  vals["ending_url"],
	}
	if raw := vals["music_volume"]; raw != "" {
		vol, _ := strconv.Atoi(raw)
		if vol < 0 || vol > 100 {
			return model.RenderConfig{}, errors.New("music volume must be between 0 and 100")
		}
		c.BgMusicVolume = &vol
	}
	c = c.Normalize()
	if err := c.Validate(); err != nil {
		return model.RenderConfig{}, err
	}
	return c, nil
}

func (f *panelForm) projectIDs() []string {
	for _, field := range f.Fields {
		if field.Key == "project_ids" {
			return splitIDs(field.Value)
		}
	}
	return nil
}

func (m panelModel) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.form == nil {
		m.mode = panelModeBrowse
		return m, nil
	}
	if m.form.Saving {
		return m, nil
	}

	key := strings.ToLower(msg.String())
	kind := m.form.currentField().Kind
	switch key {
	case "ctrl+c", "esc":
		m.mode = panelModeBrowse
		m.form = nil
		m.statusMessage = "form cancelled"
		return m, nil
	case "up", "shift+tab":
		m.form.commitInput()
		if m.form.Index > 0 {
			m.form.Index--
		}
		m.form.loadFieldIntoInput()
		return m, nil
	case "down", "tab":
		m.form.commitInput()
		if m.form.Index < len(m.form.Fields)-1 {
			m.form.Index++
		}
		m.form.loadFieldIntoInput()
		return m, nil
	case " ", "space", "right", "l":
		if kind == panelFieldBool {
			m.form.toggleBoolField()
			return m, nil
		}
		if kind == panelFieldSelect {
			m.form.stepSelectOption(1)
			return m, nil
		}
	case "left", "h":
		if kind == panelFieldBool {
			m.form.toggleBoolField()
			return m, nil
		}
		if kind == panelFieldSelect {
			m.form.stepSelectOption(-1)
			return m, nil
		}
	case "y", "n":
		if kind == panelFieldBool {
			m.form.setBoolField(key == "y")
			return m, nil
		}
	case "enter", "ctrl+s":
		m.form.commitInput()
		if m.form.Index < len(m.form.Fields)-1 && key != "ctrl+s" {
			m.form.Index++
			m.form.loadFieldIntoInput()
			return m, nil
		}
		return m.submitForm()
	}

	if kind == panelFieldBool || kind == panelFieldSelect {
		return m, nil
	}
	var cmd tea.Cmd
	m.form.Input, cmd = m.form.Input.Update(msg)
	m.form.Fields[m.form.Index].Value = m.form.Input.Value()
	return m, cmd
}

func (m panelModel) submitForm() (tea.Model, tea.Cmd) {
	cfg, err := m.form.toRenderConfig()
	if err != nil {
		m.form.Error = err.Error()
		return m, nil
	}
	switch m.form.Kind {
	case panelFormDefaults:
		m.form.Error = ""
		m.form.Saving = true
		return m, saveDefaultsCmd(m.deps.saveDefaults, cfg)
	default:
		ids := m.form.projectIDs()
		if len(ids) == 0 {
			m.form.Error = "project ids is required"
			return m, nil
		}
		m.form.Error = ""
		m.form.Saving = true
		return m, addJobsCmd(m.deps, ids, cfg)
	}
}

func (m panelModel) viewForm() string {
	if m.form == nil {
		return ""
	}
	header := panelTitleStyle.Render(m.form.Title)
	hints := panelMutedStyle.Render("tab/shift+tab or up/down: move | left/right/space: change | y/n: set yes/no | enter: next/save | ctrl+s: save | esc: cancel")

	lines := make([]string, 0, len(m.form.Fields))
	for i, f := range m.form.Fields {
		prefix := "  "
		if i == m.form.Index {
			prefix = "> "
		}
		display := strings.TrimSpace(f.Value)
		if f.Kind == panelFieldBool {
			v, _ := parseBool(display)
			display = yesNo(v)
		}
		if display == "" {
			display = panelMutedStyle.Render("(empty)")
		}
		if f.Kind == panelFieldSelect {
			display = "[" + display + "]"
		}
		lines = append(lines, wrapOrTrim(fmt.Sprintf("%s%s: %s", prefix, f.Label, display), maxInt(m.width-6, 20)))
	}

	curr := m.form.currentField()
	body := strings.Join(lines, "\n") + fmt.Sprintf("\n\n%s\n", curr.Label)
	if strings.TrimSpace(curr.Help) != "" {
		body += panelMutedStyle.Render(curr.Help) + "\n"
	}
	body += m.form.Input.View()
	switch {
	case strings.TrimSpace(m.form.Error) != "":
		body += "\n" + panelErrorStyle.Render(m.form.Error)
	case m.form.Saving && m.form.Kind == panelFormAddJobs:
		body += "\n" + panelMutedStyle.Render(m.spinner.View()+" fetching projects...")
	case m.form.Saving:
		body += "\n" + panelMutedStyle.Render("Saving...")
	}

	panel := panelBoxStyle.Width(maxInt(m.width, 40)).Render(body)
	return lipgloss.JoinVertical(lipgloss.Left, header, hints, panel)
}
