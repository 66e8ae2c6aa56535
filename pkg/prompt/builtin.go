package prompt

const specialist = "You are a healthcare credentialing specialist."

var builtin = []Template{
	{
		Name:        HardCheck,
		Description: "Pass/fail check of one hard regulation",
		System:      specialist + " Analyze the following regulation and provider data to determine if the provider meets the requirements.",
		User: `REGULATION: {{.RegulationID}} - {{.RegulationName}}
Requirements: {{json .Criteria}}

PROVIDER DATA:
{{json .Provider}}

RELEVANT DATA FOR THIS REGULATION:
{{json .Relevant}}

Based on the regulation requirements and the provider data, determine if the provider PASSES or FAILS this regulation.

Respond with ONLY:
- "PASS" if the provider meets all requirements
- "FAIL" if the provider does not meet one or more requirements

Provide a brief explanation of your reasoning after the PASS/FAIL response.`,
	},
	{
		Name:        SoftScore,
		Description: "1-5 score of one soft regulation",
		System:      specialist + " Analyze the following regulation and provider data to score the provider on a scale of 1-5.",
		User: `REGULATION: {{.RegulationID}} - {{.RegulationName}}
Scoring Criteria: {{json .Criteria}}

PROVIDER DATA:
{{json .Provider}}

RELEVANT DATA FOR THIS REGULATION:
{{json .Relevant}}

Based on the scoring criteria and the provider data, assign a score from 1 to 5:
- 1: Poor performance/does not meet basic requirements
- 2: Below average performance
- 3: Average performance/meets basic requirements
- 4: Above average performance
- 5: Excellent performance/exceeds requirements

Respond with ONLY the number (1, 2, 3, 4, or 5) followed by a brief explanation of your reasoning.`,
	},
	{
		Name:        DataMapping,
		Description: "Map provider data fields onto regulation requirements",
		System:      specialist + " Map the provider data fields to the regulatory requirements.",
		User: `PROVIDER DATA:
{{json .Provider}}

REGULATIONS:
{{json .Regulations}}

For each regulation, identify which provider data fields are relevant and how they map to the regulation requirements.

Respond with a JSON object where:
- Keys are regulation IDs
- Values are objects with:
  - "data_fields": list of relevant provider data field names
  - "mapping_confidence": confidence score (0-1)
  - "reasoning": brief explanation of the mapping

Example format:
{
  "HR001": {
    "data_fields": ["ProfessionalIds.license_number", "Disclosure.license_suspensions"],
    "mapping_confidence": 0.95,
    "reasoning": "License number and suspension history directly map to the medical license requirement"
  }
}`,
	},
	{
		Name:        Verification,
		Description: "Summarize an external verification response",
		System:      specialist + " Analyze the following API response and extract relevant verification information.",
		User: `API RESPONSE:
{{json .Response}}

Extract and structure the following information:
1. Verification status for each field
2. Confidence scores
3. Any discrepancies or issues
4. Additional verification details

Respond with a JSON object containing the structured verification data, including a "verification_status" string and a "confidence" number between 0 and 1.`,
	},
}
