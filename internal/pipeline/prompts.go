package pipeline

import "fmt"

// correctionPromptTemplate asks the model to move words between speaker turns
// without altering them. The transcript is substituted for %s.
const correctionPromptTemplate = `You are an expert medical transcription specialist fixing speaker labels in doctor-patient conversations.

CONTEXT:
- The speaker labeled "Doctor:" asks questions, uses medical terminology, and gives diagnoses and treatment plans.
- The speaker labeled "Patient:" describes symptoms, answers questions, and raises concerns.

TYPICAL ERRORS:
1. The first words of an answer are attached to the end of the previous speaker's turn.
2. Short acknowledgments such as "yes", "okay" or "I see" are given to the wrong speaker.
3. Question words such as "what", "when" or "how" are split off from the rest of their question.

EXAMPLES:

Example 1, before:
Doctor: Good morning, what brings you in today? I've
Patient: been having chest pain for three days.

Example 1, after:
Doctor: Good morning, what brings you in today?
Patient: I've been having chest pain for three days.

Example 2, before:
Patient: It started yesterday. Does
Doctor: anything make it worse?

Example 2, after:
Patient: It started yesterday.
Doctor: Does anything make it worse?

Example 3, before:
Doctor: How severe is the pain on a scale of 1 to 10? About
Patient: 7 or 8 out of 10.

Example 3, after:
Doctor: How severe is the pain on a scale of 1 to 10?
Patient: About 7 or 8 out of 10.

RULES:
1. Only move words to the correct speaker. Never change the words themselves.
2. Keep the exact wording and word order.
3. Output ONLY the corrected transcript using "Doctor:" and "Patient:" labels.
4. Do not add explanations or comments.
5. Make sure every turn is complete and reads logically.

### Input Transcript:
%s

### Corrected Transcript:
`

// soapPromptTemplate asks the model for a four-key JSON SOAP note. The
// transcript is substituted for %s.
const soapPromptTemplate = `You are an expert medical documentation assistant writing a SOAP note from a doctor-patient conversation.

CRITICAL INSTRUCTIONS:
1. Use ONLY information from the conversation. Never invent or assume details.
2. Use proper medical terminology and standard abbreviations (HTN, DM, GERD, etc.).
3. Return valid JSON with exactly these keys: Subjective, Objective, Assessment, Plan.
4. Do not use markdown, bullet points, or other formatting inside the sections.
5. Be concise but capture every clinically relevant detail.
6. If a section has no information, write "Not discussed" (never "N/A").

SOAP NOTE STRUCTURE:

Subjective (patient's experience):
- Chief complaint in the patient's words
- History of present illness: onset, location, duration, character, severity (1-10 if given)
- Aggravating and relieving factors, associated symptoms
- Relevant past medical history, current medications, allergies
- Social and family history if discussed

Objective (clinical findings):
- Vital signs if measured: BP, HR, temp, RR, O2 sat, weight/BMI
- Physical examination findings, specific about location and laterality
- Mental status and general appearance
- Lab, imaging and previous test results mentioned
- "Not discussed" if no objective data was mentioned

Assessment (clinical reasoning):
- Primary diagnosis with supporting reasoning
- Differential diagnoses and severity
- Prognosis if discussed
- Based ONLY on the information provided

Plan (management):
- Medications with name, dose, route, frequency and duration (e.g. "Lisinopril 10mg PO daily")
- Diagnostic tests, referrals and lifestyle changes
- Patient education and warning signs to watch for
- Follow-up timeline (e.g. "RTC in 2 weeks")
- "No specific plan discussed" if treatment was not mentioned

REMINDERS:
- Use clinical abbreviations where appropriate (PO, PRN, q6h, BID).
- Include dosages and frequencies for all medications.
- Do not include anything that is not in the conversation.
- Do not add disclaimers or meta-commentary.
- Output clean JSON only.

### Doctor-Patient Conversation:
%s

### Output Format (JSON only):
` + "```json" + `
{
  "Subjective": "Patient reports...",
  "Objective": "Vital signs: BP 120/80...",
  "Assessment": "Primary diagnosis: ...",
  "Plan": "1. Medication: ... 2. Follow-up: ..."
}
` + "```" + `

### SOAP Note JSON:
`

func correctionPrompt(transcript string) string {
	return fmt.Sprintf(correctionPromptTemplate, transcript)
}

func soapPrompt(transcript string) string {
	return fmt.Sprintf(soapPromptTemplate, transcript)
}
