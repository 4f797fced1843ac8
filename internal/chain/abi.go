package chain

// Contract ABIs for the deployed EnergyToken (ERC-20) and EnergyMarketplace
// pair. Only the fragments this service calls are declared.

const energyTokenABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"Approval","anonymous":false,
	 "inputs":[{"name":"owner","type":"address","indexed":true},
	           {"name":"spender","type":"address","indexed":true},
	           {"name":"value","type":"uint256","indexed":false}]}
]`

const energyMarketplaceABI = `[
	{"type":"function","name":"createListing","stateMutability":"nonpayable",
	 "inputs":[{"name":"energyAmount","type":"uint256"},{"name":"price","type":"uint256"},
	           {"name":"source","type":"string"},{"name":"location","type":"string"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"purchaseListing","stateMutability":"nonpayable",
	 "inputs":[{"name":"id","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"getListingCount","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"listings","stateMutability":"view",
	 "inputs":[{"name":"id","type":"uint256"}],
	 "outputs":[{"name":"id","type":"uint256"},{"name":"seller","type":"address"},
	            {"name":"energyAmount","type":"uint256"},{"name":"price","type":"uint256"},
	            {"name":"source","type":"string"},{"name":"location","type":"string"},
	            {"name":"timestamp","type":"uint256"},{"name":"available","type":"bool"}]},
	{"type":"event","name":"ListingCreated","anonymous":false,
	 "inputs":[{"name":"id","type":"uint256","indexed":false},
	           {"name":"seller","type":"address","indexed":false},
	           {"name":"energyAmount","type":"uint256","indexed":false},
	           {"name":"price","type":"uint256","indexed":false},
	           {"name":"source","type":"string","indexed":false},
	           {"name":"location","type":"string","indexed":false}]},
	{"type":"event","name":"ListingPurchased","anonymous":false,
	 "inputs":[{"name":"id","type":"uint256","indexed":false},
	           {"name":"buyer","type":"address","indexed":false},
	           {"name":"seller","type":"address","indexed":false},
	           {"name":"energyAmount","type":"uint256","indexed":false},
	           {"name":"price","type":"uint256","indexed":false}]}
]`
