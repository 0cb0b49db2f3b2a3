package mcpserver

// PipelineContract describes the generation pipeline rules that LLM
// consumers should follow when driving the canvas.
const PipelineContract = `# Waggle Pipeline Contract

Waggle organizes study-material generation as a canvas of connected nodes.
Tools operating on the canvas MUST follow these rules.

## Node kinds

- **asset** – a local source document (pdf, text, web capture).
- **artifact** – materialized backend output pinned to the canvas. A
  ` + "`" + `knowledge_core` + "`" + ` artifact is the distilled representation of the
  project's source material and the default generation input.
- **result** – a lightweight reference to an existing artifact by id.
- **generator** – produces one output type per node. Carries a live
  status (` + "`" + `idle` + "`" + `, ` + "`" + `pending` + "`" + `, ` + "`" + `running` + "`" + `, ` + "`" + `completed` + "`" + `, ` + "`" + `failed` + "`" + `).

## Allowed generations

Source artifact type on the left, producible output types on the right:

` + "```" + `
knowledge_core -> quiz, exam, notes, slides, flashcards
quiz           -> flashcards
` + "```" + `

Anything not listed is rejected. There is no transitive shortcut: to get
flashcards from a knowledge core via a quiz, the quiz must be generated
first and connected as the flashcard generator's source.

## Source resolution

1. A generator's sources are the completed artifacts of the nodes wired
   into it, walked through pass-through nodes.
2. A generator with no incoming edges falls back to the project's
   knowledge core.
3. Incomplete generators contribute nothing. Trigger them first.

## Orchestration rules

1. **One flight per output type.** Triggering a generator while another
   job of the same output type is in flight cancels the earlier job.
2. Generation is asynchronous. After ` + "`" + `trigger_generation` + "`" + ` returns, poll
   ` + "`" + `generation_status` + "`" + ` until the status is ` + "`" + `completed` + "`" + ` or ` + "`" + `failed` + "`" + `.
3. A cancelled generation resets the node to ` + "`" + `idle` + "`" + ` silently. Cancel is
   idempotent.

## History

Structural changes (add/remove nodes, connect, disconnect) are undoable.
Drag positions, viewport pans and live generation progress are not.
` + "`" + `undo` + "`" + ` and ` + "`" + `redo` + "`" + ` restore the canvas byte-identically.
`
