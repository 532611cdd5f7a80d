package backends

import (
	"fmt"

	"genforge/internal/core/domain"
)

// Positions are reported 1-indexed in prompts: the external CLIs talk to
// humans and their own editor tooling, not to this server's internals.

// buildPointPrompt instructs the backend to implement the declaration at
// the target position and write only that snippet to the scratch path.
// Keeping generated code off stdout is what keeps the preview stream short.
func buildPointPrompt(job domain.Job, fileContent string) string {
	line := job.Target.Start.Line
	character := job.Target.Start.Character
	return fmt.Sprintf(
		"Implement the function body at line %d, character %d in the following %s file. "+
			"The function to implement is: `%s`\n\n"+
			"IMPORTANT: Implement ONLY the function `%s` - do NOT implement any other functions in the file.\n\n"+
			"Write ONLY this function's implementation (signature and body) to the file: %s "+
			"Do NOT include any other code from the source file (no imports, no other functions). "+
			"Do NOT output the code to stdout. "+
			"Output only status messages or confirmation.\n\n"+
			"<FILE-CONTENT>\n%s</FILE-CONTENT>\n\n"+
			"<MUST-OBEY>\n"+
			"You can overwrite the output file's content, but NEVER read it, just write to it.\n"+
			"Describe your steps before performing them.\n"+
			"</MUST-OBEY>",
		line+1,
		character+1,
		job.LanguageID,
		job.Signature,
		job.Signature,
		job.ScratchPath,
		fileContent,
	)
}

// buildRangePrompt instructs the backend to rewrite the exact selected text
// and write only the replacement to the scratch path.
func buildRangePrompt(job domain.Job, fileContent string) string {
	return fmt.Sprintf(
		"Rewrite the selected code spanning lines %d to %d in the following %s file.\n\n"+
			"The exact selected text is:\n<SELECTED-TEXT>\n%s</SELECTED-TEXT>\n\n"+
			"Write ONLY the replacement for the selected text to the file: %s "+
			"Do NOT include any other code from the source file (no imports, no other functions). "+
			"Do NOT output the code to stdout. "+
			"Output only status messages or confirmation.\n\n"+
			"<FILE-CONTENT>\n%s</FILE-CONTENT>\n\n"+
			"<MUST-OBEY>\n"+
			"You can overwrite the output file's content, but NEVER read it, just write to it.\n"+
			"Describe your steps before performing them.\n"+
			"</MUST-OBEY>",
		job.Target.Start.Line+1,
		job.Target.End.Line+1,
		job.LanguageID,
		job.SelectedText,
		job.ScratchPath,
		fileContent,
	)
}

// Prompt picks the prompt shape for the job's kind.
func Prompt(job domain.Job, fileContent string) string {
	if job.Kind == domain.TargetRange {
		return buildRangePrompt(job, fileContent)
	}
	return buildPointPrompt(job, fileContent)
}
