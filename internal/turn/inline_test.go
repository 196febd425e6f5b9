package turn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInlineCommandBasic(t *testing.T) {
	cmds := ParseInlineCommands(`Let me fix that.
<edit path="a.go">new body</edit>
Done.`)
	require.Len(t, cmds, 1)
	assert.Equal(t, "edit", cmds[0].Tool)
	assert.Equal(t, "a.go", cmds[0].Args["path"])
	assert.Equal(t, "new body", cmds[0].Body)
}

func TestParseInlineCommandSelfClosing(t *testing.T) {
	cmds := ParseInlineCommands(`<delete_file path="old.go"/>`)
	require.Len(t, cmds, 1)
	assert.Equal(t, "delete_file", cmds[0].Tool)
	assert.Equal(t, "old.go", cmds[0].Args["path"])
	assert.Empty(t, cmds[0].Body)
}

func TestParseInlineCommandsIgnoresFencedCode(t *testing.T) {
	text := "Here is the syntax:\n```\n<edit path=\"fenced.go\">ignored</edit>\n```\n<edit path=\"real.go\">kept</edit>\n"
	cmds := ParseInlineCommands(text)
	require.Len(t, cmds, 1)
	assert.Equal(t, "real.go", cmds[0].Args["path"])
}

func TestParseInlineCommandsDocumentOrder(t *testing.T) {
	cmds := ParseInlineCommands(`<a x="1"/> text <b y="2"/> more <c/>`)
	require.Len(t, cmds, 3)
	assert.Equal(t, "a", cmds[0].Tool)
	assert.Equal(t, "b", cmds[1].Tool)
	assert.Equal(t, "c", cmds[2].Tool)
}

func TestParseUnterminatedTagIsNotACommand(t *testing.T) {
	cmds := ParseInlineCommands(`a generic < comparison and <edit path="x">no close tag`)
	assert.Empty(t, cmds)
}

func TestInlineJSONPutsBodyUnderContent(t *testing.T) {
	c := InlineCommand{Tool: "write_file", Args: map[string]string{"path": "a.go"}, Body: "hello"}
	assert.JSONEq(t, `{"path":"a.go","content":"hello"}`, string(c.JSON()))
}
