package desktopentry

import "testing"

const firefoxEntry = `[Desktop Entry]
Version=1.0
Name=Firefox
GenericName=Web Browser
GenericName[de]=Webbrowser
Comment=Browse the Web
Exec=firefox %u
Icon=firefox
Terminal=false
Type=Application
Categories=Network;WebBrowser;

[Desktop Action new-window]
Name=New Window
Exec=firefox --new-window
`

func TestParse(t *testing.T) {
	de, ok := Parse([]byte(firefoxEntry))
	if !ok {
		t.Fatal("Parse: ok = false")
	}
	if de.Name != "Firefox" {
		t.Errorf("Name = %q", de.Name)
	}
	if de.GenericName != "Web Browser" {
		t.Errorf("GenericName = %q (localized variant must not win)", de.GenericName)
	}
	if de.Comment != "Browse the Web" {
		t.Errorf("Comment = %q", de.Comment)
	}
	if de.Exec != "firefox %u" {
		t.Errorf("Exec = %q", de.Exec)
	}
	if de.Icon != "firefox" {
		t.Errorf("Icon = %q", de.Icon)
	}
	if de.NoDisplay {
		t.Error("NoDisplay = true, want false")
	}
}

// Keys from other groups must not leak into the entry.
func TestParseIgnoresOtherGroups(t *testing.T) {
	de, _ := Parse([]byte(firefoxEntry))
	if de.Name == "New Window" {
		t.Error("action group Name overwrote the entry Name")
	}
}

func TestParseNoDisplay(t *testing.T) {
	de, ok := Parse([]byte("[Desktop Entry]\nName=Helper\nNoDisplay=true\n"))
	if !ok || !de.NoDisplay {
		t.Errorf("de = %+v, ok = %v; want NoDisplay", de, ok)
	}
}

func TestParseNotADesktopEntry(t *testing.T) {
	if _, ok := Parse([]byte("just some text\nName=Nope\n")); ok {
		t.Error("content without [Desktop Entry] group parsed as entry")
	}
	if _, ok := Parse([]byte("[Desktop Entry]\nExec=thing\n")); ok {
		t.Error("entry without Name accepted")
	}
}

func TestParseCommentsAndBlanks(t *testing.T) {
	de, ok := Parse([]byte("# header comment\n\n[Desktop Entry]\n# inner\nName = Spaced \n"))
	if !ok || de.Name != "Spaced" {
		t.Errorf("de = %+v, ok = %v; want trimmed Name", de, ok)
	}
}
