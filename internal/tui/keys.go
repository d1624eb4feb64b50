package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Stand     key.Binding
	Hit       key.Binding
	Double    key.Binding
	Surrender key.Binding
	Insurance key.Binding
	Next      key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Stand:     key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stand")),
		Hit:       key.NewBinding(key.WithKeys("h"), key.WithHelp("h", "hit")),
		Double:    key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "double")),
		Surrender: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "surrender")),
		Insurance: key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "insurance")),
		Next:      key.NewBinding(key.WithKeys("n", "enter"), key.WithHelp("n", "next round")),
		Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Stand, k.Hit, k.Double, k.Next, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Stand, k.Hit, k.Double, k.Surrender, k.Insurance},
		{k.Next, k.Help, k.Quit},
	}
}
