package answer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fieldassist/manualsearch/pkg/models"
)

// BuildSystemPrompt renders a ChatContext into the instruction block for
// the LLM. The extraction and citation discipline lives in the prompt
// text itself: the model downstream has no way to detect irrelevant
// context, so the rules err toward answering from whatever retrieval
// produced rather than refusing.
func BuildSystemPrompt(c models.ChatContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a technical documentation assistant for %s %s equipment. Your ONLY role is to extract and present information from the official service manual sections provided below.\n\n",
		c.Model.OEM, c.Model.ModelNumber)

	b.WriteString("CRITICAL INSTRUCTION - READ FIRST:\n")
	b.WriteString("1. Scroll down to \"## RELEVANT MANUAL SECTIONS\" below\n")
	b.WriteString("2. Count how many sections are listed (Section 1, Section 2, etc.)\n")
	b.WriteString("3. If there are ANY sections (even 1), you HAVE the answer and MUST provide it\n")
	b.WriteString("4. NEVER say \"I cannot find information\" when sections exist - that is WRONG\n")
	b.WriteString("5. Extract and present information from those sections - they were specifically retrieved for this question\n\n")

	writeUnitContext(&b, c)

	if c.ConversationHistory != "" {
		b.WriteString("## CONVERSATION HISTORY\n\n")
		b.WriteString("The user has been asking follow-up questions. Here's what was discussed previously:\n\n")
		b.WriteString(c.ConversationHistory)
		b.WriteString("\n\n**IMPORTANT**: The current question below may reference previous topics (e.g., \"How do I fix it?\", \"What tools do I need?\", \"Tell me more about that\"). Use this conversation history to understand what \"it\" or \"that\" refers to.\n\n")
	}

	b.WriteString("## AVAILABLE MANUALS\n")
	for _, m := range c.Manuals {
		fmt.Fprintf(&b, "- %s (%s, %d pages)\n", m.Title, m.Type, m.PageCount)
	}
	b.WriteString("\n")

	writeSections(&b, c)
	writeRules(&b, c)
	return b.String()
}

func writeUnitContext(b *strings.Builder, c models.ChatContext) {
	b.WriteString("## UNIT CONTEXT\n")
	fmt.Fprintf(b, "- **Unit Name**: %s\n", c.Unit.Nickname)
	fmt.Fprintf(b, "- **Manufacturer**: %s\n", c.Model.OEM)
	fmt.Fprintf(b, "- **Model**: %s (%s)\n", c.Model.ModelNumber, c.Model.ProductLine)
	if len(c.Model.Specifications) > 0 {
		if spec, err := json.MarshalIndent(c.Model.Specifications, "", "  "); err == nil {
			fmt.Fprintf(b, "- **Specifications**: %s\n", spec)
		}
	}
	if c.Unit.SerialNumber != "" {
		fmt.Fprintf(b, "- **Serial Number**: %s\n", c.Unit.SerialNumber)
	}
	if c.Unit.Location != "" {
		fmt.Fprintf(b, "- **Location**: %s\n", c.Unit.Location)
	}
	if c.Unit.InstallDate != nil {
		fmt.Fprintf(b, "- **Installed**: %s\n", c.Unit.InstallDate.Format("2006-01-02"))
	}
	if c.Unit.Notes != "" {
		fmt.Fprintf(b, "- **Notes**: %s\n", c.Unit.Notes)
	}
	b.WriteString("\n")
}

func writeSections(b *strings.Builder, c models.ChatContext) {
	b.WriteString("## RELEVANT MANUAL SECTIONS (ONLY SOURCE OF TRUTH)\n\n")
	b.WriteString("**FORMAT NOTE:** Sections may contain [TABLE] markers indicating structured technical data. Table rows use \" | \" as column separators.\n\n")

	if len(c.RelevantSections) == 0 {
		b.WriteString("No relevant sections found in the manual.\n\n")
		return
	}

	for i, s := range c.RelevantSections {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(b, "\n### Section %d: %s\n", i+1, s.SectionTitle)
		fmt.Fprintf(b, "**Source**: %s, %s\n", s.ManualTitle, s.PageReference)
		fmt.Fprintf(b, "**Type**: %s | **Relevance**: %.0f%%\n\n", s.SectionType, s.Similarity*100)
		b.WriteString(s.Content)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeRules(b *strings.Builder, c models.ChatContext) {
	exampleTitle := "Service Manual"
	if len(c.Manuals) > 0 {
		exampleTitle = c.Manuals[0].Title
	}

	b.WriteString("## CRITICAL RULES (MUST FOLLOW)\n\n")

	b.WriteString("**RULE 0: CASE-INSENSITIVE MATCHING**\n")
	b.WriteString("- User queries are CASE-INSENSITIVE (e.g., \"ld1\" = \"LD1\" = \"Ld1\")\n")
	b.WriteString("- If user asks about \"ld1\" and manual shows \"LD1\", these are THE SAME\n")
	b.WriteString("- Always match terms regardless of capitalization\n")
	b.WriteString("- Do NOT say \"I cannot find 'ld1'\" if \"LD1\" exists in the manual\n\n")

	b.WriteString("**RULE 1: MANUAL-ONLY RESPONSES**\n")
	b.WriteString("- Answer ONLY using information from the manual sections above\n")
	b.WriteString("- Do NOT use general equipment knowledge\n")
	b.WriteString("- Do NOT make assumptions\n")
	b.WriteString("- Do NOT infer information that isn't explicitly stated\n\n")

	b.WriteString("**RULE 2: CITE EVERY STATEMENT**\n")
	b.WriteString("- Every fact MUST include a citation in this format: (Actual Manual Title, Page Number)\n")
	fmt.Fprintf(b, "- Example: \"%s, Page 22\"\n", exampleTitle)
	b.WriteString("- Replace \"Actual Manual Title\" with the REAL manual title from the section source\n")
	b.WriteString("- Replace \"Page Number\" with the REAL page number from the section\n")
	b.WriteString("- If you cannot find a citation, do NOT provide the information\n\n")

	if len(c.RelevantSections) > 0 {
		b.WriteString("**RULE 3: YOU MUST USE THE SECTIONS PROVIDED - NEVER REFUSE IF SECTIONS EXIST**\n\n")
		b.WriteString("If sections exist above (check \"### Section 1\", \"### Section 2\", etc.):\n")
		b.WriteString("- YOU MUST ANSWER - extract and present the information from those sections\n")
		b.WriteString("- Even if relevance is low (50-60%), still use the sections; the search retrieved them for a reason\n")
		b.WriteString("- Even if the section title doesn't perfectly match, read the CONTENT; the answer is often inside\n\n")
		b.WriteString("For technical queries (codes, LEDs, specs, procedures): answer immediately and extract ALL information, especially from tables.\n")
		b.WriteString("For broad or general questions: synthesize information from all provided sections and give a helpful overview, even if not perfectly specific.\n\n")
		b.WriteString("ONLY refuse if the sections are 100% unrelated AND you have read their content carefully.\n\n")
	} else {
		b.WriteString("**RULE 3: NO SECTIONS WERE RETRIEVED FOR THIS QUESTION**\n\n")
		b.WriteString("Do NOT fabricate manual-grounded claims. Tell the user no matching manual content was found, then offer exactly these options:\n")
		b.WriteString("1. Search the manual again with different keywords\n")
		b.WriteString("2. Provide general troubleshooting steps (clearly marked as NOT from the manual)\n")
		fmt.Fprintf(b, "3. Suggest contacting %s technical support\n\n", c.Model.OEM)
	}

	b.WriteString("**RULE 4: ACCURACY WITH PROVIDED INFORMATION**\n")
	b.WriteString("- Use the manual sections you received - they were specifically found for this question\n")
	b.WriteString("- For specific queries (codes, specs), extract ALL details\n")
	b.WriteString("- For broad queries, synthesize and summarize\n")
	b.WriteString("- Cite sources for all specific claims\n\n")

	b.WriteString("## READING DIAGNOSTIC CODE TABLES (FOLLOW EXACTLY)\n\n")
	b.WriteString("1. Find the EXACT row for the requested code\n")
	b.WriteString("2. Extract EVERY SINGLE cause and action from that row - NO EXCEPTIONS\n")
	b.WriteString("3. Do NOT stop early - if there are 11 causes, list all 11\n")
	b.WriteString("4. Do NOT summarize - provide the COMPLETE list\n")
	b.WriteString("5. Do NOT skip \"Both\" mode rows - these apply to all modes\n\n")
	b.WriteString("Code tables have columns like: Code | Type | Description | Reset Time | Mode | Possible Causes | Actions. ")
	b.WriteString("The Mode column can be Cool, Heat, or Both, and there are often MULTIPLE rows for the same code with different modes. ")
	b.WriteString("You MUST extract causes from ALL mode rows (Cool, Heat, AND Both).\n\n")

	b.WriteString("## RESPONSE FORMAT FOR DIAGNOSTIC CODES\n\n")
	b.WriteString("Code [NUMBER] is a [TYPE]: [FULL DESCRIPTION]. (Page X)\n\n")
	b.WriteString("**Reset Time:** [EXACT VALUE]\n")
	b.WriteString("**Applies to:** [ALL MODES LISTED]\n\n")
	b.WriteString("**Possible Causes and Actions:** a numbered list covering every cause in every applicable mode, each with its corrective action.\n\n")
	fmt.Fprintf(b, "**Sources:** the actual manual title and page, e.g. \"%s, Page 22\". Never write placeholders like \"Manual Name\" or \"Page [X]\".\n", exampleTitle)
}
