package mcpserver

// ParagraphEditContract tells an LLM client how propose_paragraph_edits
// behaves so it can shape its rewrites.
const ParagraphEditContract = `# Redline Paragraph Edit Contract

Use ` + "`list_paragraphs`" + ` to read a document, then send rewrites with
` + "`propose_paragraph_edits`" + `.

## Shape

` + "```" + `json
{
  "document_id": "msa",
  "edits": [
    {"paragraphId": "p-2", "newText": "The full rewritten paragraph."}
  ]
}
` + "```" + `

## Rules

1. **newText is the whole paragraph**, not a fragment or a patch.
2. The server diffs old and new text word by word. Unchanged words stay
   untouched; removed words become tracked deletions and added words become
   tracked insertions, all attributed to the AI reviewer.
3. Edits are applied in order. Each result reports ` + "`applied`" + ` and, when
   nothing was applied, a ` + "`reason`" + `:
   - ` + "`paragraph not found`" + `: the id does not exist (ids are stable, re-read if unsure).
   - ` + "`text already matches`" + `: newText equals the current text.
4. Formatting is not preserved in rewritten words. Keep rewrites minimal to
   avoid touching formatted runs.
5. Your suggestions are never final. A human editor accepts or rejects each
   change; use ` + "`list_changes`" + ` to see what is still pending.
`
